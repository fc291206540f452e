// package raster implements the binary pixel matrix fed to the
// engraving pipeline and the scanline extraction of laser-on runs.
package raster

import (
	"errors"
	"fmt"
	"image"
)

// ErrMalformed is reported for pixel sources with inconsistent row
// lengths. A well-formed rasterizer never produces one.
var ErrMalformed = errors.New("raster: rows have inconsistent lengths")

// Matrix is a row-major grid of on/off cells with the origin at the
// top-left. An on cell means the laser fires there.
type Matrix struct {
	w, h  int
	cells []bool
}

func New(w, h int) *Matrix {
	if w < 0 || h < 0 {
		panic(fmt.Errorf("raster: negative dimensions %dx%d", w, h))
	}
	return &Matrix{
		w:     w,
		h:     h,
		cells: make([]bool, w*h),
	}
}

// FromRows builds a Matrix from rows of 0/1 ints. Every row must have
// the same length.
func FromRows(rows [][]int) (*Matrix, error) {
	h := len(rows)
	w := 0
	if h > 0 {
		w = len(rows[0])
	}
	m := New(w, h)
	for y, row := range rows {
		if len(row) != w {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformed, y, len(row), w)
		}
		for x, v := range row {
			if v != 0 {
				m.Set(x, y, true)
			}
		}
	}
	return m, nil
}

// FromBitmap builds a Matrix from a boolean module grid, such as a QR
// code bitmap.
func FromBitmap(bm [][]bool) (*Matrix, error) {
	h := len(bm)
	w := 0
	if h > 0 {
		w = len(bm[0])
	}
	m := New(w, h)
	for y, row := range bm {
		if len(row) != w {
			return nil, fmt.Errorf("%w: row %d has %d cells, want %d", ErrMalformed, y, len(row), w)
		}
		for x, on := range row {
			if on {
				m.Set(x, y, true)
			}
		}
	}
	return m, nil
}

func (m *Matrix) Size() (w, h int) {
	return m.w, m.h
}

func (m *Matrix) At(x, y int) bool {
	return m.cells[y*m.w+x]
}

func (m *Matrix) Set(x, y int, on bool) {
	m.cells[y*m.w+x] = on
}

// Invert flips every cell in place, the "flip colors" toggle.
func (m *Matrix) Invert() {
	for i := range m.cells {
		m.cells[i] = !m.cells[i]
	}
}

// Upscale returns a copy of the matrix with every cell replicated into
// an n by n block, so coarse module grids such as QR codes cover more
// than one beam width. It panics if n is not positive.
func (m *Matrix) Upscale(n int) *Matrix {
	if n <= 0 {
		panic(fmt.Errorf("raster: upscale factor %d is not positive", n))
	}
	up := New(m.w*n, m.h*n)
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			if !m.At(x, y) {
				continue
			}
			for dy := 0; dy < n; dy++ {
				for dx := 0; dx < n; dx++ {
					up.Set(x*n+dx, y*n+dy, true)
				}
			}
		}
	}
	return up
}

// Count returns the number of on cells.
func (m *Matrix) Count() int {
	n := 0
	for _, on := range m.cells {
		if on {
			n++
		}
	}
	return n
}

// Threshold converts an image to a Matrix: a cell is on when the pixel
// luma is below threshold. An all-white source yields an all-off
// matrix, which is valid output. With invert set, every cell is
// flipped, so light areas engrave instead of dark ones.
func Threshold(img image.Image, threshold uint8, invert bool) *Matrix {
	b := img.Bounds()
	m := New(b.Dx(), b.Dy())
	for y := 0; y < m.h; y++ {
		for x := 0; x < m.w; x++ {
			on := luma(img, b.Min.X+x, b.Min.Y+y) < threshold
			if invert {
				on = !on
			}
			m.Set(x, y, on)
		}
	}
	return m
}

// luma is the ITU-R 601 weighting, with alpha composited over white.
func luma(img image.Image, x, y int) uint8 {
	r, g, b, a := img.At(x, y).RGBA()
	if a == 0 {
		return 255
	}
	if a < 0xffff {
		// Premultiplied alpha; composite over a white background.
		r += 0xffff - a
		g += 0xffff - a
		b += 0xffff - a
	}
	return uint8(((299*r + 587*g + 114*b) / 1000) >> 8)
}

// Run is a maximal sequence of contiguous on cells within one row.
// End is exclusive: the column of the first off cell after the run.
type Run struct {
	Row   int
	Start int
	End   int
}

// RowRuns scans one row left to right and returns its runs in start
// order. A run still open at the end of the row is closed at the row
// width.
func (m *Matrix) RowRuns(row int) []Run {
	var runs []Run
	inRun := false
	start := 0
	for col := 0; col < m.w; col++ {
		switch on := m.At(col, row); {
		case on && !inRun:
			inRun = true
			start = col
		case !on && inRun:
			runs = append(runs, Run{Row: row, Start: start, End: col})
			inRun = false
		}
	}
	if inRun {
		runs = append(runs, Run{Row: row, Start: start, End: m.w})
	}
	return runs
}

// Runs returns the runs of every row in row-major order. Rows without
// on cells contribute nothing; an empty matrix yields no runs.
func (m *Matrix) Runs() []Run {
	var runs []Run
	for row := 0; row < m.h; row++ {
		runs = append(runs, m.RowRuns(row)...)
	}
	return runs
}

// Instruction is one engraving move in pixel space: sweep the laser
// from From to To at the given power and feed rate.
type Instruction struct {
	From  image.Point
	To    image.Point
	Power int // 0-255
	Feed  int // mm/min
}

// Instructions flattens the matrix runs into pixel-space instructions,
// one per run, in row-major discovery order.
func Instructions(m *Matrix, power, feed int) []Instruction {
	var ins []Instruction
	for _, r := range m.Runs() {
		ins = append(ins, Instruction{
			From:  image.Pt(r.Start, r.Row),
			To:    image.Pt(r.End, r.Row),
			Power: power,
			Feed:  feed,
		})
	}
	return ins
}

// Serpentine reorders instructions so that every other occupied row is
// swept right to left, reducing machine travel between rows. Both the
// per-row order and the from/to endpoints are reversed; correctness of
// the downstream assembly does not depend on sweep direction.
func Serpentine(ins []Instruction) []Instruction {
	out := make([]Instruction, len(ins))
	copy(out, ins)
	parity := 0
	for i := 0; i < len(out); {
		j := i
		for j < len(out) && out[j].From.Y == out[i].From.Y {
			j++
		}
		if parity%2 == 1 {
			reverseRow(out[i:j])
		}
		parity++
		i = j
	}
	return out
}

func reverseRow(row []Instruction) {
	for a, b := 0, len(row)-1; a < b; a, b = a+1, b-1 {
		row[a], row[b] = row[b], row[a]
	}
	for k := range row {
		row[k].From, row[k].To = row[k].To, row[k].From
	}
}
