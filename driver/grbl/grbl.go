// package grbl implements a driver for GRBL-based laser engravers
// attached over a serial link.
package grbl

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/tarm/serial"

	"g2burn.dev/gcode"
)

var ErrCancelled = errors.New("grbl: cancelled")

const baudRate = 115200

// Realtime control bytes. GRBL acts on these immediately, outside the
// line protocol.
const (
	feedHold   = '!'
	cycleStart = '~'
	softReset  = 0x18
)

// Open connects to the engraver on dev, or on the platform's usual
// serial ports when dev is empty.
func Open(dev string) (io.ReadWriteCloser, error) {
	var devices []string
	if dev != "" {
		devices = append(devices, dev)
	} else {
		switch runtime.GOOS {
		case "windows":
			devices = append(devices, "COM3")
		case "linux":
			devices = append(devices, "/dev/ttyUSB0", "/dev/ttyUSB1")
		case "darwin":
			devices = append(devices, "/dev/tty.wchusbserial1130")
		}
	}
	if len(devices) == 0 {
		return nil, errors.New("grbl: no device specified")
	}
	var firstErr error
	for _, dev := range devices {
		c := &serial.Config{Name: dev, Baud: baudRate}
		s, err := serial.OpenPort(c)
		if err == nil {
			return s, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

// Engrave streams prog to the device one command per line, waiting for
// the controller's acknowledgement of each. Progress in the range
// [0,1] is delivered on progress if non-nil. Closing or signalling
// quit cancels the job: the driver immediately issues a laser-off and
// a feed hold before terminating the stream, then reports
// ErrCancelled.
func Engrave(dev io.ReadWriter, prog gcode.Program, progress chan float32, quit <-chan struct{}) (eerr error) {
	bufr := bufio.NewReader(dev)
	wr := func(data string) {
		if eerr != nil {
			return
		}
		_, eerr = io.WriteString(dev, data)
	}
	readLine := func() string {
		if eerr != nil {
			return ""
		}
		line, err := bufr.ReadString('\n')
		if err != nil {
			eerr = err
			return ""
		}
		return strings.TrimRight(line, "\r\n")
	}
	ack := func() {
		for eerr == nil {
			switch resp := readLine(); {
			case resp == "ok":
				return
			case strings.HasPrefix(resp, "error:"):
				eerr = fmt.Errorf("grbl: command rejected: %s", resp)
				return
			default:
				// Status reports and alarms are asynchronous; skip
				// anything that is not an acknowledgement.
			}
		}
	}
	abort := func() {
		// Laser off, then feed hold. Best effort: the stream is
		// already being torn down.
		io.WriteString(dev, "M5\n")
		dev.Write([]byte{feedHold})
		eerr = ErrCancelled
	}

	// Wake the controller and wait for its banner.
	wr("\r\n\r\n")
	for eerr == nil {
		if line := readLine(); strings.HasPrefix(line, "Grbl") {
			break
		}
	}

	lines := prog.Lines()
	for i, line := range lines {
		select {
		case <-quit:
			abort()
			return eerr
		default:
		}
		wr(line + "\n")
		ack()
		if eerr != nil {
			return eerr
		}
		if progress != nil {
			completed := i + 1
			// Don't spam the progress channel.
			if completed%10 != 0 && completed < len(lines) {
				continue
			}
			select {
			case <-progress:
			default:
			}
			progress <- float32(completed) / float32(len(lines))
		}
	}
	return eerr
}

// Jog moves the head to x, y machine millimeters at the given feed
// rate without firing the laser, waiting for the controller to accept
// the motion.
func Jog(dev io.ReadWriter, x, y float64, feed int) error {
	if _, err := fmt.Fprintf(dev, "$J=G90 X%.3f Y%.3f F%d\n", x, y, feed); err != nil {
		return err
	}
	bufr := bufio.NewReader(dev)
	for {
		line, err := bufr.ReadString('\n')
		if err != nil {
			return err
		}
		switch line = strings.TrimRight(line, "\r\n"); {
		case line == "ok":
			return nil
		case strings.HasPrefix(line, "error:"):
			return fmt.Errorf("grbl: jog rejected: %s", line)
		}
	}
}

// Status is a parsed GRBL status report.
type Status struct {
	State   string
	X, Y, Z float64
}

// Query requests a realtime status report from the device.
func Query(dev io.ReadWriter) (Status, error) {
	if _, err := dev.Write([]byte{'?'}); err != nil {
		return Status{}, err
	}
	bufr := bufio.NewReader(dev)
	for {
		line, err := bufr.ReadString('\n')
		if err != nil {
			return Status{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(line, "<") {
			return parseStatus(line)
		}
	}
}

// Reset issues a soft reset, aborting any running job and clearing the
// controller's buffers.
func Reset(dev io.Writer) error {
	_, err := dev.Write([]byte{softReset})
	return err
}

// parseStatus parses a report like
// <Idle|MPos:0.000,0.000,0.000|FS:0,0>.
func parseStatus(line string) (Status, error) {
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return Status{}, fmt.Errorf("grbl: malformed status %q", line)
	}
	parts := strings.Split(line[1:len(line)-1], "|")
	if len(parts) == 0 || parts[0] == "" {
		return Status{}, fmt.Errorf("grbl: malformed status %q", line)
	}
	s := Status{State: parts[0]}
	for _, part := range parts[1:] {
		pos, ok := strings.CutPrefix(part, "MPos:")
		if !ok {
			continue
		}
		coords := strings.Split(pos, ",")
		if len(coords) < 2 {
			return Status{}, fmt.Errorf("grbl: malformed position %q", part)
		}
		var axes [3]float64
		for i, c := range coords {
			if i >= len(axes) {
				break
			}
			v, err := strconv.ParseFloat(c, 64)
			if err != nil {
				return Status{}, fmt.Errorf("grbl: malformed position %q: %w", part, err)
			}
			axes[i] = v
		}
		s.X, s.Y, s.Z = axes[0], axes[1], axes[2]
	}
	return s, nil
}
