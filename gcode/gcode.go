// package gcode converts pixel-space engraving instructions into
// physical motion commands relative to a user-placed origin, and
// serializes them to the line-oriented G-code dialect the controller
// consumes.
package gcode

import (
	"errors"
	"fmt"
	"image"
	"io"
	"math"
	"strings"

	"g2burn.dev/raster"
)

// ErrMissingOrigin is reported when assembly is attempted without an
// origin. Defaulting to (0,0) would silently shift the whole design, so
// the caller must place one first.
var ErrMissingOrigin = errors.New("gcode: no origin placed")

// Origin is the design-space point, in millimeters, that machine
// coordinate (0,0) maps to.
type Origin struct {
	X, Y float64
}

// Params are the physical constants of one engraving job.
type Params struct {
	// Scale is the size of one raster cell in millimeters, the beam
	// diameter.
	Scale float64
	// Power is the laser power, 0-255.
	Power int
	// Feed is the engraving feed rate in mm/min.
	Feed int
}

// DefaultParams matches the machine the tool ships tuned for.
var DefaultParams = Params{
	Scale: 0.072,
	Power: 255,
	Feed:  1000,
}

// PowerPercent maps a 0-100% power setting linearly onto the 0-255
// scale.
func PowerPercent(pct float64) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return int(math.Round(pct / 100 * 255))
}

// MMToPixel converts a design-space point in millimeters to the raster
// cell containing it, rounding to the nearest cell.
func MMToPixel(x, y, scale float64) image.Point {
	return image.Point{
		X: int(math.Round(x / scale)),
		Y: int(math.Round(y / scale)),
	}
}

// PixelToMM converts a raster cell to origin-relative machine
// millimeters. Raster rows grow downward while the machine Y axis
// grows upward, so the row axis is flipped against the image height
// before the similarly flipped origin is subtracted. The order is
// load-bearing: subtracting first would misplace every origin not on
// the top row.
func PixelToMM(p, origin image.Point, height int, scale float64) (x, y float64) {
	flipped := height - 1 - p.Y
	flippedOrigin := height - 1 - origin.Y
	x = float64(p.X-origin.X) * scale
	y = float64(flipped-flippedOrigin) * scale
	return x, y
}

type Kind int

const (
	// Move positions the head with the laser off, power pre-armed.
	Move Kind = iota
	// LaserOn fires the laser at the pre-armed power.
	LaserOn
	// Engrave sweeps to the target with the laser firing.
	Engrave
	// LaserOff extinguishes the laser.
	LaserOff
)

// Op is one primitive motion or laser operation. X and Y are absolute
// machine millimeters.
type Op struct {
	Kind  Kind
	X, Y  float64
	Power int // Move, Engrave
	Feed  int // Engrave
}

// Program is an ordered sequence of operations. Every LaserOn is
// matched by exactly one LaserOff before the next LaserOn.
type Program []Op

// Assemble converts pixel-space instructions into a Program. Runs are
// emitted in the order given; travel-order optimization belongs to a
// separate pass over the instructions, never here. A nil origin is a
// precondition failure.
func Assemble(ins []raster.Instruction, origin *Origin, height int, par Params) (Program, error) {
	if origin == nil {
		return nil, ErrMissingOrigin
	}
	if par.Scale <= 0 {
		return nil, fmt.Errorf("gcode: scale %v is not positive", par.Scale)
	}
	originPx := MMToPixel(origin.X, origin.Y, par.Scale)
	// Origin millimeters are machine-frame, growing upward; its row
	// index lives in the top-down image frame.
	originPx.Y = height - 1 - originPx.Y
	prog := make(Program, 0, len(ins)*4)
	for _, in := range ins {
		power, feed := in.Power, in.Feed
		if power == 0 {
			power = par.Power
		}
		if feed == 0 {
			feed = par.Feed
		}
		fx, fy := PixelToMM(in.From, originPx, height, par.Scale)
		tx, ty := PixelToMM(in.To, originPx, height, par.Scale)
		prog = append(prog,
			Op{Kind: Move, X: fx, Y: fy, Power: power},
			Op{Kind: LaserOn},
			Op{Kind: Engrave, X: tx, Y: ty, Power: power, Feed: feed},
			Op{Kind: LaserOff},
		)
	}
	return prog, nil
}

// Encode writes the program as line-oriented G-code: a single G90
// selecting absolute positioning, then one command per operation.
// Coordinates are fixed-point with three decimals; power and feed are
// integers.
func (p Program) Encode(w io.Writer) error {
	if _, err := io.WriteString(w, "G90\n"); err != nil {
		return err
	}
	for _, op := range p {
		var err error
		switch op.Kind {
		case Move:
			_, err = fmt.Fprintf(w, "G1 X%.3f Y%.3f S%d\n", op.X, op.Y, op.Power)
		case LaserOn:
			_, err = io.WriteString(w, "M3\n")
		case Engrave:
			_, err = fmt.Fprintf(w, "G1 X%.3f Y%.3f F%d S%d\n", op.X, op.Y, op.Feed, op.Power)
		case LaserOff:
			_, err = io.WriteString(w, "M5\n")
		default:
			err = fmt.Errorf("gcode: unknown op kind %d", op.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (p Program) String() string {
	var sb strings.Builder
	p.Encode(&sb)
	return sb.String()
}

// Lines returns the encoded program as individual commands, the unit
// the streaming driver acknowledges one at a time.
func (p Program) Lines() []string {
	s := strings.TrimSuffix(p.String(), "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
