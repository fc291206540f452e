// command g2burn converts an image, SVG or QR code into laser
// engraving G-code, written to a file or streamed to a GRBL engraver.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/skip2/go-qrcode"

	"g2burn.dev/driver/grbl"
	"g2burn.dev/gcode"
	"g2burn.dev/profile"
	"g2burn.dev/raster"
	"g2burn.dev/scene"
)

var (
	device     = flag.String("device", "", "serial device to stream to instead of writing a file")
	output     = flag.String("o", "out.gcode", "output G-code file")
	profPath   = flag.String("profile", "", "machine profile (TOML)")
	originFlag = flag.String("origin", "", "machine origin in design mm, as x,y")
	threshold  = flag.Int("threshold", -1, "grayscale threshold 0-255")
	invert     = flag.Bool("invert", false, "flip colors: engrave light areas instead of dark")
	power      = flag.Int("power", -1, "laser power 0-255")
	powerPct   = flag.Float64("powerpct", -1, "laser power as a percentage 0-100; overrides -power")
	feed       = flag.Int("feed", -1, "engraving feed rate, mm/min")
	scaleFlag  = flag.Float64("scale", 0, "beam diameter, mm per raster cell")
	serpentine = flag.Bool("serpentine", false, "alternate scan direction on every other row")
	qrContent  = flag.String("qr", "", "engrave a QR code with this content instead of an input file")
	qrScale    = flag.Int("qrscale", 4, "raster cells per QR module")
	jogFlag    = flag.String("jog", "", "move the head to this machine position (x,y mm) and exit")
)

func main() {
	flag.Parse()
	if err := run(); err != nil {
		if errors.Is(err, gcode.ErrMissingOrigin) {
			fmt.Fprintf(os.Stderr, "place an origin point first (-origin x,y)\n")
		} else {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
		os.Exit(1)
	}
}

func run() error {
	prof := profile.Default()
	if *profPath != "" {
		var err error
		prof, err = profile.Load(*profPath)
		if err != nil {
			return err
		}
	}
	if *threshold >= 0 {
		prof.Threshold = *threshold
	}
	if *power >= 0 {
		prof.Power = *power
	}
	if *powerPct >= 0 {
		prof.Power = gcode.PowerPercent(*powerPct)
	}
	if *feed > 0 {
		prof.Feed = *feed
	}
	if *scaleFlag > 0 {
		prof.Scale = *scaleFlag
	}
	if err := prof.Validate(); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if *jogFlag != "" {
		return jog(prof)
	}

	m, err := inputMatrix(prof)
	if err != nil {
		return err
	}
	_, h := m.Size()

	ins := raster.Instructions(m, prof.Power, prof.Feed)
	if *serpentine {
		ins = raster.Serpentine(ins)
	}
	origin, err := parseOrigin(*originFlag)
	if err != nil {
		return err
	}
	prog, err := gcode.Assemble(ins, origin, h, gcode.Params{
		Scale: prof.Scale,
		Power: prof.Power,
		Feed:  prof.Feed,
	})
	if err != nil {
		return err
	}

	if dev := *device; dev != "" || prof.Port != "" {
		if dev == "" {
			dev = prof.Port
		}
		return stream(dev, prog)
	}
	f, err := os.Create(*output)
	if err != nil {
		return err
	}
	if err := prog.Encode(f); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%d commands written to %s\n", len(prog.Lines()), *output)
	return nil
}

func inputMatrix(prof profile.Profile) (*raster.Matrix, error) {
	if *qrContent != "" {
		qr, err := qrcode.New(*qrContent, qrcode.Medium)
		if err != nil {
			return nil, err
		}
		qr.DisableBorder = true
		m, err := raster.FromBitmap(qr.Bitmap())
		if err != nil {
			return nil, err
		}
		if *invert {
			m.Invert()
		}
		return m.Upscale(*qrScale), nil
	}
	if flag.NArg() != 1 {
		return nil, errors.New("exactly one input file (or -qr) required")
	}
	img, err := scene.LoadImage(flag.Arg(0))
	if err != nil {
		return nil, err
	}
	return raster.Threshold(img, uint8(prof.Threshold), *invert), nil
}

func parseOrigin(s string) (*gcode.Origin, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return nil, fmt.Errorf("invalid origin %q, want x,y", s)
	}
	x, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %v", s, err)
	}
	y, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid origin %q: %v", s, err)
	}
	return &gcode.Origin{X: x, Y: y}, nil
}

func jog(prof profile.Profile) error {
	target, err := parseOrigin(*jogFlag)
	if err != nil {
		return err
	}
	port := *device
	if port == "" {
		port = prof.Port
	}
	dev, err := grbl.Open(port)
	if err != nil {
		return err
	}
	defer dev.Close()
	return grbl.Jog(dev, target.X, target.Y, prof.Travel)
}

func stream(port string, prog gcode.Program) error {
	dev, err := grbl.Open(port)
	if err != nil {
		return err
	}
	defer dev.Close()

	quit := make(chan os.Signal, 1)
	cancel := make(chan struct{})
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-quit
		signal.Reset(os.Interrupt)
		close(cancel)
	}()
	progress := make(chan float32, 1)
	done := make(chan error)
	go func() {
		done <- grbl.Engrave(dev, prog, progress, cancel)
	}()
	for {
		select {
		case p := <-progress:
			fmt.Fprintf(os.Stderr, "\rengraving: %3.0f%%", p*100)
		case err := <-done:
			fmt.Fprintln(os.Stderr)
			return err
		}
	}
}
