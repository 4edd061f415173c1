package kernel

import (
	"fmt"

	"sparkrt/sparkos/internal/objects"
)

// ObjectID is the untyped form of every kernel handle.
type ObjectID = objects.ID

const (
	classThread objects.Class = iota + 1
	classMutex
	classCond
	classQueue
	classAlarm
)

type (
	// ThreadID names a thread.
	ThreadID objects.ID
	// MutexID names a mutex.
	MutexID objects.ID
	// CondID names a condition variable.
	CondID objects.ID
	// QueueID names a message queue.
	QueueID objects.ID
	// AlarmID names an alarm.
	AlarmID objects.ID
)

func idString(kind string, id objects.ID) string {
	if id.IsNull() {
		return kind + ":null"
	}
	return fmt.Sprintf("%s:%d.%d", kind, id.Index(), id.Generation())
}

func (id ThreadID) String() string { return idString("thread", objects.ID(id)) }
func (id MutexID) String() string  { return idString("mutex", objects.ID(id)) }
func (id CondID) String() string   { return idString("cond", objects.ID(id)) }
func (id QueueID) String() string  { return idString("queue", objects.ID(id)) }
func (id AlarmID) String() string  { return idString("alarm", objects.ID(id)) }

// DescribeID renders an untyped handle with the name of its class.
func DescribeID(id ObjectID) string {
	switch id.Class() {
	case classThread:
		return ThreadID(id).String()
	case classMutex:
		return MutexID(id).String()
	case classCond:
		return CondID(id).String()
	case classQueue:
		return QueueID(id).String()
	case classAlarm:
		return AlarmID(id).String()
	default:
		return id.String()
	}
}
