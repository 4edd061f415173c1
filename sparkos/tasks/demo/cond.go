package demo

import (
	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

// condStep is how far the counter must move before the waiters wake.
const condStep = 3

type counter struct {
	m     kernel.MutexID
	cv    kernel.CondID
	value int
}

// startCond runs one thread that counts and two that wait on a condition
// variable for the count to reach their next target.
func startCond(k *kernel.Kernel, out console.Client, period kernel.Ticks) error {
	m, err := k.MutexCreate(kernel.MutexAttr{Name: "counter", Protocol: kernel.MutexPriority})
	if err != nil {
		return err
	}
	cv, err := k.CondCreate("counter")
	if err != nil {
		return err
	}
	ctr := &counter{m: m, cv: cv}

	counting := func(c *kernel.Context, _ any) any {
		for {
			if err := c.Sleep(period); err != nil {
				return err
			}
			if err := c.MutexLock(ctr.m, true, kernel.NoTimeout); err != nil {
				return err
			}
			ctr.value++
			if ctr.value%condStep == 0 {
				_, _ = c.CondBroadcast(ctr.cv)
			}
			_ = c.MutexUnlock(ctr.m)
		}
	}
	waiting := func(c *kernel.Context, _ any) any {
		target := condStep
		for {
			if err := c.MutexLock(ctr.m, true, kernel.NoTimeout); err != nil {
				return err
			}
			for ctr.value < target {
				if err := c.CondWait(ctr.cv, ctr.m); err != nil {
					_ = c.MutexUnlock(ctr.m)
					return err
				}
			}
			v := ctr.value
			_ = c.MutexUnlock(ctr.m)
			_ = out.Printf(c, "cond: %s woke at count %d\n", c.Name(), v)
			target = v + condStep
		}
	}

	for _, name := range []string{"cond-a", "cond-b"} {
		if _, err := spawn(k, name, 130, waiting, nil); err != nil {
			return err
		}
	}
	_, err = spawn(k, "cond-count", 170, counting, nil)
	return err
}
