package kernel

import (
	"sparkrt/sparkos/internal/objects"
	"sparkrt/sparkos/internal/watchdog"
)

// TimerState is the state of an alarm's underlying timer.
type TimerState = watchdog.State

const (
	TimerInactive      = watchdog.Inactive
	TimerBeingInserted = watchdog.BeingInserted
	TimerActive        = watchdog.Active
	TimerRemoveIt      = watchdog.RemoveIt
)

// AlarmHandler runs in interrupt context when an alarm fires. It may use
// the kernel-level calls but must not block.
type AlarmHandler func(id AlarmID, arg any)

// Alarm is a one-shot or periodic timer with a user handler.
type Alarm struct {
	id      AlarmID
	name    string
	timer   watchdog.Timer
	handler AlarmHandler
	arg     any
	period  Ticks
	fired   uint64
	// gen counts arms and cancels. The timer carries the gen it was armed
	// with, so a firing that raced a cancel finds a newer value.
	gen     uint64
}

// AlarmInfo is a snapshot of an alarm.
type AlarmInfo struct {
	ID        AlarmID
	Name      string
	State     TimerState
	Period    Ticks
	Remaining Ticks
	Fired     uint64
}

func (k *Kernel) alarmInfoLocked(a *Alarm) AlarmInfo {
	info := AlarmInfo{
		ID:     a.id,
		Name:   a.name,
		State:  a.timer.State(),
		Period: a.period,
		Fired:  a.fired,
	}
	if now := k.wd.NowLocked(); info.State == TimerActive && a.timer.FireAt() > now {
		info.Remaining = a.timer.FireAt() - now
	}
	return info
}

// AlarmCreate creates an idle alarm.
func (k *Kernel) AlarmCreate(name string) (AlarmID, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)

	a, oid, err := k.alarms.Allocate()
	if err != nil {
		return 0, ErrTooMany
	}
	a.id = AlarmID(oid)
	a.name = name
	a.timer.Init(k.alarmFire, uint32(oid), nil)
	_ = k.alarms.Open(oid)
	return a.id, nil
}

// AlarmSet arms a one-shot alarm that fires after ticks. A pending alarm
// is cancelled first.
func (k *Kernel) AlarmSet(id AlarmID, ticks Ticks, h AlarmHandler, arg any) error {
	return k.alarmArm(id, ticks, 0, h, arg)
}

// AlarmSetPeriodic arms an alarm that first fires after start ticks and
// then every period ticks until cancelled.
func (k *Kernel) AlarmSetPeriodic(id AlarmID, start, period Ticks, h AlarmHandler, arg any) error {
	if period == 0 {
		return ErrInvalidArgument
	}
	return k.alarmArm(id, start, period, h, arg)
}

func (k *Kernel) alarmArm(id AlarmID, ticks, period Ticks, h AlarmHandler, arg any) error {
	if ticks == 0 || h == nil {
		return ErrInvalidArgument
	}
	lvl := k.mask.Disable()
	a, ok := k.alarms.Get(objects.ID(id))
	if !ok {
		k.mask.Enable(lvl)
		return ErrInvalidID
	}
	k.wd.RemoveLocked(&a.timer)
	a.gen++
	a.timer.Init(k.alarmFire, uint32(id), a.gen)
	a.handler = h
	a.arg = arg
	a.period = period
	k.mask.Enable(lvl)

	k.wd.Insert(&a.timer, ticks, watchdog.Relative)
	return nil
}

// AlarmCancel stops an alarm and returns the state its timer was in.
// TimerRemoveIt means the alarm was due and its firing was cut off
// before the handler ran, or while it was running.
func (k *Kernel) AlarmCancel(id AlarmID) (TimerState, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	a, ok := k.alarms.Get(objects.ID(id))
	if !ok {
		return TimerInactive, ErrInvalidID
	}
	a.period = 0
	a.gen++
	return k.wd.RemoveLocked(&a.timer), nil
}

// AlarmRemaining returns the ticks left before the alarm fires, or 0 when
// it is not pending.
func (k *Kernel) AlarmRemaining(id AlarmID) (Ticks, error) {
	info, err := k.AlarmInfo(id)
	return info.Remaining, err
}

// AlarmInfo returns a snapshot of an alarm.
func (k *Kernel) AlarmInfo(id AlarmID) (AlarmInfo, error) {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	a, ok := k.alarms.Get(objects.ID(id))
	if !ok {
		return AlarmInfo{}, ErrInvalidID
	}
	return k.alarmInfoLocked(a), nil
}

// AlarmDestroy cancels and deletes an alarm.
func (k *Kernel) AlarmDestroy(id AlarmID) error {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	a, ok := k.alarms.Get(objects.ID(id))
	if !ok {
		return ErrInvalidID
	}
	k.wd.RemoveLocked(&a.timer)
	a.gen++
	_ = k.alarms.Close(objects.ID(id))
	_ = k.alarms.Free(objects.ID(id))
	return nil
}

// Alarms returns a snapshot of every alarm.
func (k *Kernel) Alarms() []AlarmInfo {
	lvl := k.mask.Disable()
	defer k.mask.Enable(lvl)
	var out []AlarmInfo
	k.alarms.Each(func(_ objects.ID, a *Alarm) bool {
		out = append(out, k.alarmInfoLocked(a))
		return true
	})
	return out
}

// alarmFire is the watchdog routine of every alarm. A periodic alarm is
// re-armed before its handler runs, relative to the missed deadline so
// that late ticks do not drift the period.
func (k *Kernel) alarmFire(id uint32, gen any) {
	if k.alarmFireHook != nil {
		k.alarmFireHook(AlarmID(id))
	}
	armed, _ := gen.(uint64)
	lvl := k.mask.Disable()
	a, ok := k.alarms.Get(objects.ID(id))
	if !ok || a.handler == nil || a.gen != armed {
		k.mask.Enable(lvl)
		return
	}
	a.fired++
	h, arg := a.handler, a.arg
	if a.period > 0 {
		k.wd.InsertLocked(&a.timer, a.timer.FireAt()+a.period, watchdog.Absolute)
	}
	k.mask.Enable(lvl)

	h(AlarmID(id), arg)
}
