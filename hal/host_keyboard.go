//go:build !tinygo

package hal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	tty "github.com/mattn/go-tty"
)

// ErrInterrupted is returned by the runners when the user typed Ctrl-C on
// a raw terminal.
var ErrInterrupted = errors.New("hal: interrupted")

type hostKeyboard struct {
	ch      chan KeyEvent
	dropped uint64
}

func newHostKeyboard() *hostKeyboard {
	return &hostKeyboard{ch: make(chan KeyEvent, 64)}
}

func (k *hostKeyboard) Events() <-chan KeyEvent { return k.ch }

func (k *hostKeyboard) emit(ev KeyEvent) {
	select {
	case k.ch <- ev:
	default:
		k.dropped++
	}
}

// ttyKeys reads raw keys from a terminal and doubles as the console
// serial: writes go to the terminal, input arrives as key events. Escape
// sequences arrive as their individual runes.
type ttyKeys struct {
	mu      sync.Mutex
	t       *tty.TTY
	restore func() error
	kbd     *hostKeyboard
}

func openTTYKeys(device string, kbd *hostKeyboard) (*ttyKeys, error) {
	var (
		t   *tty.TTY
		err error
	)
	if device != "" {
		t, err = tty.OpenDevice(device)
	} else {
		t, err = tty.Open()
	}
	if err != nil {
		return nil, fmt.Errorf("tty: %w", err)
	}
	restore, err := t.Raw()
	if err != nil {
		_ = t.Close()
		return nil, fmt.Errorf("tty raw mode: %w", err)
	}
	return &ttyKeys{t: t, restore: restore, kbd: kbd}, nil
}

func (k *ttyKeys) run(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		for {
			r, err := k.t.ReadRune()
			if err != nil {
				done <- fmt.Errorf("tty: %w", err)
				return
			}
			if r == 0x03 {
				done <- ErrInterrupted
				return
			}
			k.kbd.emit(keyEventFromRune(r))
		}
	}()
	select {
	case <-ctx.Done():
		return nil
	case err := <-done:
		return err
	}
}

// Write translates newlines for the raw terminal.
func (k *ttyKeys) Write(p []byte) (int, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, err := k.t.Output().Write(bytes.ReplaceAll(p, []byte("\n"), []byte("\r\n"))); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Input is nil: terminal input is delivered as key events.
func (k *ttyKeys) Input() <-chan []byte { return nil }

func (k *ttyKeys) Close() error {
	err := k.restore()
	if cerr := k.t.Close(); err == nil {
		err = cerr
	}
	return err
}

func keyEventFromRune(r rune) KeyEvent {
	switch r {
	case '\r', '\n':
		return KeyEvent{Code: KeyEnter, Press: true}
	case 0x7f, 0x08:
		return KeyEvent{Code: KeyBackspace, Press: true}
	case '\t':
		return KeyEvent{Code: KeyTab, Press: true}
	default:
		return KeyEvent{Press: true, Rune: r}
	}
}
