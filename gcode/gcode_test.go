package gcode

import (
	"errors"
	"image"
	"strings"
	"testing"

	"g2burn.dev/raster"
)

func TestPixelToMMOriginRoundTrip(t *testing.T) {
	for _, test := range []struct {
		origin image.Point
		height int
		scale  float64
	}{
		{image.Pt(0, 0), 10, 1},
		{image.Pt(3, 7), 10, 0.072},
		{image.Pt(0, 9), 10, 0.5},
		{image.Pt(41, 0), 42, 2},
	} {
		x, y := PixelToMM(test.origin, test.origin, test.height, test.scale)
		if x != 0 || y != 0 {
			t.Errorf("origin %v: maps to (%v,%v) mm, want (0,0)", test.origin, x, y)
		}
	}
}

func TestPixelToMMFlip(t *testing.T) {
	const h = 10
	origin := image.Pt(0, h-1)
	// Top row maps to the maximum relative Y.
	_, top := PixelToMM(image.Pt(0, 0), origin, h, 1)
	if want := float64(h - 1); top != want {
		t.Errorf("top row Y = %v, want %v", top, want)
	}
	// Bottom row coincides with the origin row.
	_, bottom := PixelToMM(image.Pt(0, h-1), origin, h, 1)
	if bottom != 0 {
		t.Errorf("bottom row Y = %v, want 0", bottom)
	}
}

func TestMMToPixel(t *testing.T) {
	tests := []struct {
		x, y, scale float64
		want        image.Point
	}{
		{0, 0, 0.072, image.Pt(0, 0)},
		{7.2, 14.4, 0.072, image.Pt(100, 200)},
		{1, 1, 0.072, image.Pt(14, 14)},
		{2.5, 2.5, 1, image.Pt(3, 3)}, // rounds to nearest
	}
	for _, test := range tests {
		if got := MMToPixel(test.x, test.y, test.scale); got != test.want {
			t.Errorf("MMToPixel(%v,%v,%v) = %v, want %v", test.x, test.y, test.scale, got, test.want)
		}
	}
}

func TestAssembleMissingOrigin(t *testing.T) {
	ins := []raster.Instruction{
		{From: image.Pt(0, 0), To: image.Pt(1, 0)},
	}
	prog, err := Assemble(ins, nil, 1, DefaultParams)
	if !errors.Is(err, ErrMissingOrigin) {
		t.Fatalf("got %v, want ErrMissingOrigin", err)
	}
	if len(prog) != 0 {
		t.Errorf("got %d ops despite missing origin, want 0", len(prog))
	}
}

func TestAssembleInvalidScale(t *testing.T) {
	_, err := Assemble(nil, &Origin{}, 1, Params{Scale: 0, Power: 255, Feed: 1000})
	if err == nil {
		t.Error("zero scale accepted")
	}
}

func TestLaserBracketing(t *testing.T) {
	m, err := raster.FromRows([][]int{
		{1, 0, 1, 1, 0, 1},
		{0, 0, 0, 0, 0, 0},
		{1, 1, 1, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	ins := raster.Instructions(m, 255, 1000)
	prog, err := Assemble(ins, &Origin{}, 3, Params{Scale: 1, Power: 255, Feed: 1000})
	if err != nil {
		t.Fatal(err)
	}
	lines := prog.Lines()
	var m3, m5 int
	armed := false
	lastWasM3 := false
	for _, l := range lines {
		switch l {
		case "M3":
			if lastWasM3 {
				t.Fatal("two M3 without an intervening M5")
			}
			if armed {
				t.Fatal("M3 while laser already on")
			}
			armed, lastWasM3 = true, true
			m3++
		case "M5":
			if !armed {
				t.Fatal("M5 without preceding M3")
			}
			armed, lastWasM3 = false, false
			m5++
		default:
			if strings.HasPrefix(l, "M3") {
				t.Fatalf("unexpected M3 form: %q", l)
			}
			lastWasM3 = false
		}
	}
	if m3 != len(ins) || m5 != len(ins) {
		t.Errorf("M3=%d M5=%d, want both %d", m3, m5, len(ins))
	}
	// Every M3 follows a position move.
	for i, l := range lines {
		if l != "M3" {
			continue
		}
		if i == 0 || !strings.HasPrefix(lines[i-1], "G1 ") {
			t.Errorf("M3 at line %d not preceded by a move", i)
		}
	}
}

func TestEndToEnd(t *testing.T) {
	m, err := raster.FromRows([][]int{
		{1, 1, 0, 0},
		{0, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	ins := raster.Instructions(m, 255, 1000)
	prog, err := Assemble(ins, &Origin{X: 0, Y: 0}, 2, Params{Scale: 1, Power: 255, Feed: 1000})
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"G90",
		"G1 X0.000 Y1.000 S255",
		"M3",
		"G1 X2.000 Y1.000 F1000 S255",
		"M5",
		"G1 X1.000 Y0.000 S255",
		"M3",
		"G1 X4.000 Y0.000 F1000 S255",
		"M5",
		"",
	}, "\n")
	if got := prog.String(); got != want {
		t.Errorf("stream mismatch:\ngot:\n%s\nwant:\n%s", got, want)
	}
	if lines := prog.Lines(); len(lines) != 9 {
		t.Errorf("got %d lines, want 9", len(lines))
	}
}

func TestAssembleOriginFrame(t *testing.T) {
	m, err := raster.FromRows([][]int{
		{1, 0},
		{0, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	ins := raster.Instructions(m, 255, 1000)
	// Origin millimeters count from the machine frame: (1,1) mm is one
	// cell up from the bottom row, so the top row sits at relative Y=0.
	prog, err := Assemble(ins, &Origin{X: 1, Y: 1}, 2, Params{Scale: 1, Power: 255, Feed: 1000})
	if err != nil {
		t.Fatal(err)
	}
	lines := prog.Lines()
	if got, want := lines[1], "G1 X-1.000 Y0.000 S255"; got != want {
		t.Errorf("move = %q, want %q", got, want)
	}
}

func TestEncodeEmptyProgram(t *testing.T) {
	var prog Program
	if got := prog.String(); got != "G90\n" {
		t.Errorf("empty program encodes to %q, want G90 only", got)
	}
}

func TestPowerPercent(t *testing.T) {
	tests := []struct {
		pct  float64
		want int
	}{
		{0, 0},
		{100, 255},
		{50, 128},
		{-10, 0},
		{200, 255},
	}
	for _, test := range tests {
		if got := PowerPercent(test.pct); got != test.want {
			t.Errorf("PowerPercent(%v) = %d, want %d", test.pct, got, test.want)
		}
	}
}
