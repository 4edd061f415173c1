package demo

import (
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

const (
	inheritLow  kernel.Priority = 150
	inheritHigh kernel.Priority = 90
	holdTicks                   = 10
)

// startInherit runs a low priority thread that holds an inheriting mutex
// while a high priority thread asks for it.
func startInherit(k *kernel.Kernel, out console.Client, period kernel.Ticks) error {
	m, err := k.MutexCreate(kernel.MutexAttr{Name: "shared", Protocol: kernel.MutexInherit})
	if err != nil {
		return err
	}
	gate, err := k.MessageQueueCreate(kernel.QueueAttr{Name: "inherit-go", MaxPending: 1, MaxSize: 1})
	if err != nil {
		return err
	}

	high := func(c *kernel.Context, _ any) any {
		buf := make([]byte, 1)
		for {
			if _, err := c.MessageQueueReceive(gate, buf, true, kernel.NoTimeout); err != nil {
				return err
			}
			t0 := c.Now()
			if err := c.MutexLock(m, true, kernel.NoTimeout); err != nil {
				return err
			}
			_ = out.Printf(c, "inherit: high waited %d ticks\n", c.Now()-t0)
			_ = c.MutexUnlock(m)
		}
	}
	low := func(c *kernel.Context, _ any) any {
		for {
			if err := c.MutexLock(m, true, kernel.NoTimeout); err != nil {
				return err
			}
			if err := c.MessageQueueSend(gate, []byte{1}, true, kernel.NoTimeout); err != nil {
				return err
			}
			if info, err := c.Kernel().ThreadInfo(c.Self()); err == nil {
				_ = out.Printf(c, "inherit: low holds the mutex at priority %d (base %d)\n", info.Priority, info.RealPriority)
			}
			_ = c.Sleep(holdTicks)
			_ = c.MutexUnlock(m)
			if info, err := c.Kernel().ThreadInfo(c.Self()); err == nil {
				_ = out.Printf(c, "inherit: low released, back to %d\n", info.Priority)
			}
			_ = c.Sleep(period)
		}
	}

	if _, err := spawn(k, "inherit-high", inheritHigh, high, nil); err != nil {
		return err
	}
	_, err = spawn(k, "inherit-low", inheritLow, low, nil)
	return err
}
