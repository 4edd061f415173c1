package kernel

import (
	"bytes"
	"errors"
	"sync/atomic"
	"testing"
)

func TestMessageQueueOrderingAndNotify(t *testing.T) {
	r := newRig(t, Config{})
	rec := &recorder{}
	var notified atomic.Int32
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, err := k.MessageQueueCreate(QueueAttr{Name: "q", MaxPending: 4, MaxSize: 16})
		if err != nil {
			rec.add("create: %v", err)
			return
		}
		_ = k.MessageQueueSetNotify(q, func(QueueID, any) { notified.Add(1) }, nil)

		_ = c.MessageQueueSend(q, []byte("a"), false, NoTimeout)
		_ = c.MessageQueueSendPriority(q, []byte("b"), 5, false, NoTimeout)
		_ = c.MessageQueueUrgent(q, []byte("c"), false, NoTimeout)
		_ = c.MessageQueueSendPriority(q, []byte("d"), 3, false, NoTimeout)
		rec.add("notified %d", notified.Load())

		buf := make([]byte, 16)
		for {
			n, err := c.MessageQueueReceive(q, buf, false, NoTimeout)
			if errors.Is(err, ErrUnsatisfiedNoWait) {
				break
			}
			rec.add("got %s", buf[:n])
		}

		_ = c.MessageQueueSend(q, []byte("e"), false, NoTimeout)
		rec.add("notified %d", notified.Load())
		n, _ := k.MessageQueueFlush(q)
		rec.add("flushed %d", n)
	})
	expectEvents(t, rec, "notified 1", "got c", "got d", "got b", "got a", "notified 2", "flushed 1")
}

func TestMessageQueueRoundTrip(t *testing.T) {
	r := newRig(t, Config{})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ := k.MessageQueueCreate(QueueAttr{Name: "rt", MaxPending: 1, MaxSize: 32})
		for _, msg := range [][]byte{{}, []byte("x"), bytes.Repeat([]byte{0xa5}, 32)} {
			if err := c.MessageQueueSend(q, msg, false, NoTimeout); err != nil {
				rec.add("send: %v", err)
				continue
			}
			buf := make([]byte, 32)
			n, err := c.MessageQueueReceive(q, buf, false, NoTimeout)
			rec.add("%d %v %v", n, bytes.Equal(buf[:n], msg), err)
		}

		err := c.MessageQueueSend(q, make([]byte, 33), false, NoTimeout)
		rec.add("too big: %v", errors.Is(err, ErrInvalidSize))
		_, err = c.MessageQueueReceive(q, make([]byte, 8), false, NoTimeout)
		rec.add("short buffer: %v", errors.Is(err, ErrInvalidSize))
	})
	expectEvents(t, rec, "0 true <nil>", "1 true <nil>", "32 true <nil>", "too big: true", "short buffer: true")
}

func TestMessageQueueBroadcast(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ := k.MessageQueueCreate(QueueAttr{Name: "bc", MaxPending: 2, MaxSize: 8, Discipline: DisciplinePriority})
		body := func(c *Context, _ any) any {
			buf := make([]byte, 8)
			n, err := c.MessageQueueReceive(q, buf, true, NoTimeout)
			rec.add("%s %s %v", c.Name(), buf[:n], err)
			return nil
		}
		mustThread(c, rec, ThreadAttr{Name: "r1", Priority: 60, Entry: body})
		mustThread(c, rec, ThreadAttr{Name: "r2", Priority: 50, Entry: body})
		_ = c.Sleep(1)

		n, err := c.MessageQueueBroadcast(q, []byte("hi"))
		rec.add("broadcast %d %v", n, err)

		_ = c.MessageQueueSend(q, []byte("p"), false, NoTimeout)
		n, err = c.MessageQueueBroadcast(q, []byte("late"))
		rec.add("with backlog %d %v", n, err)
	})
	r.tick(1)
	expectEvents(t, rec, "broadcast 2 <nil>", "with backlog 0 <nil>", "r2 hi <nil>", "r1 hi <nil>")
}

func TestMessageQueueSendFromInterrupt(t *testing.T) {
	r := newRig(t, Config{})
	rec := &recorder{}
	var q QueueID
	r.boot(func(c *Context) {
		var err error
		q, err = c.Kernel().MessageQueueCreate(QueueAttr{Name: "keys", MaxPending: 1, MaxSize: 4})
		if err != nil {
			rec.add("create: %v", err)
			return
		}
		buf := make([]byte, 4)
		for i := 0; i < 2; i++ {
			n, err := c.MessageQueueReceive(q, buf, true, NoTimeout)
			rec.add("key %s %v", buf[:n], err)
		}
	})

	if err := r.k.MessageQueueSendFromISR(q, []byte("a"), PrioritySend); err != nil {
		t.Fatalf("MessageQueueSendFromISR: %v", err)
	}
	r.settle()
	if err := r.k.MessageQueueSendFromISR(q, []byte("b"), PrioritySend); err != nil {
		t.Fatalf("MessageQueueSendFromISR: %v", err)
	}
	r.settle()
	if err := r.k.MessageQueueSendFromISR(q, []byte("c"), PrioritySend); err != nil {
		t.Fatalf("MessageQueueSendFromISR: %v", err)
	}
	if err := r.k.MessageQueueSendFromISR(q, []byte("d"), PrioritySend); !errors.Is(err, ErrUnsatisfiedNoWait) {
		t.Fatalf("expected full queue to refuse, got %v", err)
	}
	expectEvents(t, rec, "key a <nil>", "key b <nil>")
}

func TestMessageQueueReceiveTimeoutAndDestroy(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	var q QueueID
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ = k.MessageQueueCreate(QueueAttr{Name: "t", MaxPending: 4, MaxSize: 64})
		mustThread(c, rec, ThreadAttr{Name: "rx", Priority: 50, Stack: make([]byte, 256), Entry: func(c *Context, _ any) any {
			_, err := c.MessageQueueReceive(q, make([]byte, 64), true, 2)
			rec.add("rx %v", errors.Is(err, ErrTimeout))
			return nil
		}})
		_ = c.Sleep(1)
		rec.add("destroy busy %v", errors.Is(k.MessageQueueDestroy(q), ErrBusy))
	})
	r.tick(2)
	expectEvents(t, rec, "destroy busy true", "rx true")

	before := r.k.Stats().Heap.Used
	if err := r.k.MessageQueueDestroy(q); err != nil {
		t.Fatalf("MessageQueueDestroy: %v", err)
	}
	if freed := before - r.k.Stats().Heap.Used; freed != 4*(64+messageHeaderSize) {
		t.Fatalf("expected queue buffers returned, freed %d", freed)
	}
	if _, err := r.k.MessageQueueCreate(QueueAttr{Name: "huge", MaxPending: 1 << 20, MaxSize: 1 << 10}); !errors.Is(err, ErrUnsatisfied) {
		t.Fatalf("expected ErrUnsatisfied for an oversized pool, got %v", err)
	}
}

func TestMessageQueueFlushAdmitsBlockedSender(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ := k.MessageQueueCreate(QueueAttr{Name: "one", MaxPending: 1, MaxSize: 4})
		_ = c.MessageQueueSend(q, []byte("A"), false, NoTimeout)
		mustThread(c, rec, ThreadAttr{Name: "tx", Priority: 5, Entry: func(c *Context, _ any) any {
			msg := []byte("B")
			err := c.MessageQueueSend(q, msg, true, NoTimeout)
			rec.add("sender returned %v %s", err, msg)
			return nil
		}})

		n, err := c.MessageQueueFlush(q)
		rec.add("flushed %d %v", n, err)
		err = c.MessageQueueSend(q, []byte("C"), false, NoTimeout)
		rec.add("send C full: %v", errors.Is(err, ErrUnsatisfiedNoWait))

		buf := make([]byte, 4)
		n, err = c.MessageQueueReceive(q, buf, false, NoTimeout)
		rec.add("got %s %v", buf[:n], err)
		_, err = c.MessageQueueReceive(q, buf, false, NoTimeout)
		rec.add("empty: %v", errors.Is(err, ErrUnsatisfiedNoWait))
	})
	expectEvents(t, rec,
		"sender returned <nil> B",
		"flushed 1 <nil>",
		"send C full: true",
		"got B <nil>",
		"empty: true",
	)
}

func TestMessageQueueFlushWithBlockedReceiver(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ := k.MessageQueueCreate(QueueAttr{Name: "rx", MaxPending: 2, MaxSize: 4})
		mustThread(c, rec, ThreadAttr{Name: "rx", Priority: 5, Entry: func(c *Context, _ any) any {
			buf := make([]byte, 4)
			n, err := c.MessageQueueReceive(q, buf, true, NoTimeout)
			rec.add("rx %s %v", buf[:n], err)
			return nil
		}})

		n, _ := c.MessageQueueFlush(q)
		rec.add("flushed %d", n)
		_ = c.MessageQueueSend(q, []byte("x"), false, NoTimeout)
		rec.add("sent")
	})
	expectEvents(t, rec, "flushed 0", "rx x <nil>", "sent")
}

func TestMessageQueueFlushWaitersThenDestroy(t *testing.T) {
	r := newRig(t, Config{InitPriority: 10})
	rec := &recorder{}
	r.boot(func(c *Context) {
		k := c.Kernel()
		q, _ := k.MessageQueueCreate(QueueAttr{Name: "gone", MaxPending: 1, MaxSize: 4, Discipline: DisciplinePriority})
		for _, name := range []string{"rx1", "rx2"} {
			mustThread(c, rec, ThreadAttr{Name: name, Priority: 20, Entry: func(c *Context, _ any) any {
				_, err := c.MessageQueueReceive(q, make([]byte, 4), true, NoTimeout)
				rec.add("%s deleted: %v", c.Name(), errors.Is(err, ErrObjectWasDeleted))
				return nil
			}})
		}
		_ = c.Sleep(1)
		rec.add("destroy busy: %v", errors.Is(k.MessageQueueDestroy(q), ErrBusy))

		n, err := c.MessageQueueFlushWaiters(q)
		rec.add("woke %d %v", n, err)
		_ = c.Sleep(1)
		rec.add("destroy: %v", k.MessageQueueDestroy(q))
	})
	r.tick(2)
	expectEvents(t, rec,
		"destroy busy: true",
		"woke 2 <nil>",
		"rx1 deleted: true",
		"rx2 deleted: true",
		"destroy: <nil>",
	)
}
