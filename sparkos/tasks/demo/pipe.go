package demo

import (
	"fmt"

	"sparkrt/sparkos/kernel"
	"sparkrt/sparkos/services/console"
)

// Every urgentEvery-th item jumps the queue.
const urgentEvery = 4

func startPipe(k *kernel.Kernel, out console.Client, period kernel.Ticks) error {
	q, err := k.MessageQueueCreate(kernel.QueueAttr{Name: "pipe", MaxPending: 4, MaxSize: 32})
	if err != nil {
		return err
	}

	producer := func(c *kernel.Context, _ any) any {
		for n := 1; ; n++ {
			if err := c.Sleep(period); err != nil {
				return err
			}
			msg := []byte(fmt.Sprintf("item %d", n))
			var err error
			if n%urgentEvery == 0 {
				err = c.MessageQueueUrgent(q, append(msg, " (urgent)"...), true, kernel.NoTimeout)
			} else {
				err = c.MessageQueueSend(q, msg, true, kernel.NoTimeout)
			}
			if err != nil {
				return err
			}
		}
	}
	consumer := func(c *kernel.Context, _ any) any {
		buf := make([]byte, 32)
		for {
			n, err := c.MessageQueueReceive(q, buf, true, kernel.NoTimeout)
			if err != nil {
				return err
			}
			_ = out.Printf(c, "pipe: consumed %s\n", buf[:n])
		}
	}

	if _, err := spawn(k, "pipe-consumer", 140, consumer, nil); err != nil {
		return err
	}
	_, err = spawn(k, "pipe-producer", 160, producer, nil)
	return err
}
