package grbl

import (
	"errors"
	"reflect"
	"testing"

	"g2burn.dev/gcode"
	"g2burn.dev/raster"
)

func testProgram(t *testing.T) gcode.Program {
	t.Helper()
	m, err := raster.FromRows([][]int{
		{1, 1, 0, 0},
		{0, 1, 1, 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	ins := raster.Instructions(m, 255, 1000)
	prog, err := gcode.Assemble(ins, &gcode.Origin{}, 2, gcode.Params{Scale: 1, Power: 255, Feed: 1000})
	if err != nil {
		t.Fatal(err)
	}
	return prog
}

func TestEngrave(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	prog := testProgram(t)
	if err := Engrave(s, prog, nil, nil); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.Cmds, prog.Lines()) {
		t.Errorf("device received %v, want %v", s.Cmds, prog.Lines())
	}
	if s.Cmds[0] != "G90" {
		t.Errorf("first command %q, want G90", s.Cmds[0])
	}
}

func TestEngraveProgress(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	progress := make(chan float32, 1)
	if err := Engrave(s, testProgram(t), progress, nil); err != nil {
		t.Fatal(err)
	}
	select {
	case p := <-progress:
		if p != 1 {
			t.Errorf("final progress %v, want 1", p)
		}
	default:
		t.Error("no progress reported")
	}
}

func TestEngraveCancel(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	quit := make(chan struct{})
	close(quit)
	err := Engrave(s, testProgram(t), nil, quit)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want ErrCancelled", err)
	}
	// Safety: the laser is extinguished and the feed held before the
	// stream terminates.
	if len(s.Cmds) == 0 || s.Cmds[len(s.Cmds)-1] != "M5" {
		t.Errorf("last command %v, want M5", s.Cmds)
	}
	if !s.Held {
		t.Error("no feed hold received")
	}
}

func TestEngraveRejected(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	s.FailAt = 2
	err := Engrave(s, testProgram(t), nil, nil)
	if err == nil || errors.Is(err, ErrCancelled) {
		t.Fatalf("got %v, want rejection error", err)
	}
	if len(s.Cmds) != 3 {
		t.Errorf("device received %d commands, want 3 (stream stops at rejection)", len(s.Cmds))
	}
}

func TestEngraveLarge(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	m := raster.New(64, 64)
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			if (x+y)%2 == 0 {
				m.Set(x, y, true)
			}
		}
	}
	ins := raster.Instructions(m, 255, 1000)
	prog, err := gcode.Assemble(ins, &gcode.Origin{}, 64, gcode.Params{Scale: 0.072, Power: 255, Feed: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if err := Engrave(s, prog, nil, nil); err != nil {
		t.Fatal(err)
	}
	if got, want := len(s.Cmds), len(prog.Lines()); got != want {
		t.Errorf("device received %d commands, want %d", got, want)
	}
}

func TestQuery(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	st, err := Query(s)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != "Idle" {
		t.Errorf("state %q, want Idle", st.State)
	}
}

func TestJog(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	if err := Jog(s, 10, 5.5, 3000); err != nil {
		t.Fatal(err)
	}
	want := []string{"$J=G90 X10.000 Y5.500 F3000"}
	if !reflect.DeepEqual(s.Cmds, want) {
		t.Errorf("commands %q, want %q", s.Cmds, want)
	}
}

func TestJogRejected(t *testing.T) {
	s := NewSimulator()
	defer s.Close()
	s.FailAt = 0

	if err := Jog(s, 0, 0, 3000); err == nil {
		t.Error("rejected jog reported no error")
	}
}

func TestReset(t *testing.T) {
	s := NewSimulator()
	defer s.Close()

	if err := Reset(s); err != nil {
		t.Fatal(err)
	}
	if s.Resets != 1 {
		t.Errorf("resets = %d, want 1", s.Resets)
	}
}

func TestParseStatus(t *testing.T) {
	tests := []struct {
		line    string
		want    Status
		wantErr bool
	}{
		{
			line: "<Idle|MPos:0.000,0.000,0.000|FS:0,0>",
			want: Status{State: "Idle"},
		},
		{
			line: "<Run|MPos:12.500,-3.250,0.000|FS:1000,255>",
			want: Status{State: "Run", X: 12.5, Y: -3.25},
		},
		{
			line: "<Hold:0>",
			want: Status{State: "Hold:0"},
		},
		{line: "ok", wantErr: true},
		{line: "<Idle|MPos:abc,0>", wantErr: true},
		{line: "<Idle|MPos:1.0>", wantErr: true},
	}
	for _, test := range tests {
		got, err := parseStatus(test.line)
		if test.wantErr {
			if err == nil {
				t.Errorf("parseStatus(%q): no error", test.line)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseStatus(%q): %v", test.line, err)
			continue
		}
		if got != test.want {
			t.Errorf("parseStatus(%q) = %+v, want %+v", test.line, got, test.want)
		}
	}
}
