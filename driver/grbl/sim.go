package grbl

import (
	"errors"
	"strings"
)

// Simulator is an in-process GRBL device for tests. It implements
// io.ReadWriter, speaking the line-oriented acknowledgement protocol
// and the realtime control bytes, and records every command it
// receives.
type Simulator struct {
	woken   bool
	partial strings.Builder
	pending []byte

	// Cmds are the complete command lines received, in order.
	Cmds []string
	// Held reports whether a feed hold was received.
	Held bool
	// Resets counts soft resets.
	Resets int

	// FailAt, if non-negative, rejects the command with that index
	// with an error acknowledgement.
	FailAt int

	close chan struct{}
	in    chan ioRequest
	out   chan ioResult
}

type ioRequest struct {
	write bool
	data  []byte
}

type ioResult struct {
	bytes int
	err   error
}

func NewSimulator() *Simulator {
	sim := &Simulator{
		FailAt: -1,
		close:  make(chan struct{}),
		in:     make(chan ioRequest),
		out:    make(chan ioResult),
	}
	go sim.run()
	return sim
}

func (s *Simulator) run() {
	for {
		select {
		case <-s.close:
			s.close <- struct{}{}
			return
		case r := <-s.in:
			var n int
			var err error
			if r.write {
				n, err = s.doWrite(r.data)
			} else {
				n, err = s.doRead(r.data)
			}
			s.out <- ioResult{n, err}
		}
	}
}

func (s *Simulator) respond(line string) {
	s.pending = append(s.pending, line...)
	s.pending = append(s.pending, '\r', '\n')
}

func (s *Simulator) doWrite(data []byte) (int, error) {
	for _, b := range data {
		switch b {
		case feedHold:
			s.Held = true
		case cycleStart:
			s.Held = false
		case softReset:
			s.Resets++
			s.woken = false
			s.partial.Reset()
		case '\r':
		case '\n':
			line := s.partial.String()
			s.partial.Reset()
			if line == "" {
				// Wake sequence; greet once.
				if !s.woken {
					s.woken = true
					s.respond("Grbl 1.1h ['$' for help]")
				}
				break
			}
			if s.FailAt >= 0 && len(s.Cmds) == s.FailAt {
				s.Cmds = append(s.Cmds, line)
				s.respond("error:20")
				break
			}
			s.Cmds = append(s.Cmds, line)
			s.respond("ok")
		case '?':
			s.respond("<Idle|MPos:0.000,0.000,0.000|FS:0,0>")
		default:
			s.partial.WriteByte(b)
		}
	}
	return len(data), nil
}

func (s *Simulator) doRead(data []byte) (int, error) {
	if len(s.pending) == 0 {
		return 0, errors.New("grbl sim: read with no pending response")
	}
	n := copy(data, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *Simulator) Read(data []byte) (int, error) {
	s.in <- ioRequest{false, data}
	r := <-s.out
	return r.bytes, r.err
}

func (s *Simulator) Write(data []byte) (int, error) {
	s.in <- ioRequest{true, data}
	r := <-s.out
	return r.bytes, r.err
}

func (s *Simulator) Close() error {
	s.close <- struct{}{}
	<-s.close
	return nil
}
