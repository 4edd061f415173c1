//go:build !tinygo

package hal

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

type hostSerial interface {
	Serial
	Close() error
	// run reads from the peer until ctx ends.
	run(ctx context.Context) error
}

// serialInput is the receive side shared by the host serial consoles.
type serialInput struct {
	ch      chan []byte
	dropped uint64
}

func newSerialInput() serialInput {
	return serialInput{ch: make(chan []byte, 64)}
}

func (in *serialInput) Input() <-chan []byte { return in.ch }

func (in *serialInput) deliver(b []byte) {
	chunk := append([]byte(nil), b...)
	select {
	case in.ch <- chunk:
	default:
		in.dropped++
	}
}

// stdioSerial is the process's standard streams.
type stdioSerial struct {
	serialInput
	mu sync.Mutex
	r  io.Reader
	w  io.Writer
}

func newStdioSerial(r *os.File, w *os.File) *stdioSerial {
	return &stdioSerial{serialInput: newSerialInput(), r: r, w: w}
}

func (s *stdioSerial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *stdioSerial) Close() error { return nil }

func (s *stdioSerial) run(ctx context.Context) error {
	// Reads from stdin cannot be interrupted; the pump outlives ctx and
	// stops at EOF.
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := s.r.Read(buf)
			if n > 0 {
				s.deliver(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()
	<-ctx.Done()
	return nil
}

// portSerial is a serial device.
type portSerial struct {
	serialInput
	name string
	port serial.Port
}

func openPortSerial(name string, baud int) (*portSerial, error) {
	if baud <= 0 {
		baud = 115200
	}
	p, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, fmt.Errorf("serial %s: %w", name, err)
	}
	return &portSerial{serialInput: newSerialInput(), name: name, port: p}, nil
}

func (s *portSerial) Write(p []byte) (int, error) { return s.port.Write(p) }

func (s *portSerial) Close() error { return s.port.Close() }

func (s *portSerial) run(ctx context.Context) error {
	if err := s.port.SetReadTimeout(100 * time.Millisecond); err != nil {
		return fmt.Errorf("serial %s: %w", s.name, err)
	}
	buf := make([]byte, 256)
	for ctx.Err() == nil {
		n, err := s.port.Read(buf)
		if err != nil {
			return fmt.Errorf("serial %s: %w", s.name, err)
		}
		if n > 0 {
			s.deliver(buf[:n])
		}
	}
	return nil
}
