package isr

import (
	"sync"
	"testing"
	"time"
)

func TestMaskSerializes(t *testing.T) {
	var m Mask
	counter := 0

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				l := m.Disable()
				counter++
				m.Enable(l)
			}
		}()
	}
	wg.Wait()

	if counter != 8000 {
		t.Fatalf("expected 8000, got %d", counter)
	}
	if st := m.Stats(); st.Sections < 8000 {
		t.Fatalf("expected at least 8000 sections, got %d", st.Sections)
	}
}

func TestFlashLetsOthersIn(t *testing.T) {
	var m Mask
	entered := make(chan struct{})

	l := m.Disable()
	go func() {
		g := m.Enter()
		close(entered)
		g.Leave()
	}()

	deadline := time.After(2 * time.Second)
	for {
		l = m.Flash(l)
		select {
		case <-entered:
			m.Enable(l)
			if m.Stats().Flashes == 0 {
				t.Fatal("expected flash to be counted")
			}
			return
		case <-deadline:
			m.Enable(l)
			t.Fatal("timeout waiting for the other goroutine to enter")
		default:
		}
	}
}

func TestMaxHoldRecorded(t *testing.T) {
	var m Mask
	l := m.Disable()
	time.Sleep(2 * time.Millisecond)
	m.Enable(l)

	if st := m.Stats(); st.MaxHold < 2*time.Millisecond {
		t.Fatalf("expected max hold >= 2ms, got %s", st.MaxHold)
	}
}
