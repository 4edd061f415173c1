package console

import (
	"fmt"
	"io"

	"sparkrt/sparkos/kernel"
)

// Client sends output to a console. The zero Client discards everything.
type Client struct {
	q   kernel.QueueID
	max int
}

// Valid reports whether the client is bound to a console.
func (cl Client) Valid() bool { return cl.q != 0 }

// Queue returns the console's output queue.
func (cl Client) Queue() kernel.QueueID { return cl.q }

// Write sends b in chunks, blocking while the queue is full.
func (cl Client) Write(c *kernel.Context, b []byte) error {
	if !cl.Valid() {
		return nil
	}
	msg := make([]byte, 0, cl.max+1)
	for len(b) > 0 {
		chunk := b
		if len(chunk) > cl.max {
			chunk = chunk[:cl.max]
		}
		msg = append(append(msg[:0], kindWrite), chunk...)
		if err := c.MessageQueueSend(cl.q, msg, true, kernel.NoTimeout); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
		b = b[len(chunk):]
	}
	return nil
}

// Print writes s.
func (cl Client) Print(c *kernel.Context, s string) error {
	return cl.Write(c, []byte(s))
}

// Printf formats and writes.
func (cl Client) Printf(c *kernel.Context, format string, args ...any) error {
	return cl.Write(c, []byte(fmt.Sprintf(format, args...)))
}

// Clear blanks the screen.
func (cl Client) Clear(c *kernel.Context) error {
	if !cl.Valid() {
		return nil
	}
	if err := c.MessageQueueSend(cl.q, []byte{kindClear}, true, kernel.NoTimeout); err != nil {
		return fmt.Errorf("console clear: %w", err)
	}
	return nil
}

// WriteFromISR queues b without blocking, for interrupt handlers. Output
// that does not fit is dropped and reported.
func (cl Client) WriteFromISR(k *kernel.Kernel, b []byte) error {
	if !cl.Valid() {
		return nil
	}
	for len(b) > 0 {
		chunk := b
		if len(chunk) > cl.max {
			chunk = chunk[:cl.max]
		}
		msg := append([]byte{kindWrite}, chunk...)
		if err := k.MessageQueueSendFromISR(cl.q, msg, kernel.PrioritySend); err != nil {
			return fmt.Errorf("console write: %w", err)
		}
		b = b[len(chunk):]
	}
	return nil
}

// Writer binds the client to the calling thread as an io.Writer.
func (cl Client) Writer(c *kernel.Context) io.Writer {
	return writer{cl: cl, c: c}
}

type writer struct {
	cl Client
	c  *kernel.Context
}

func (w writer) Write(p []byte) (int, error) {
	if err := w.cl.Write(w.c, p); err != nil {
		return 0, err
	}
	return len(p), nil
}
