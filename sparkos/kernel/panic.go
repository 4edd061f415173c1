package kernel

import (
	"runtime"
	"sync/atomic"
)

// PanicInfo describes a panic recovered on a kernel thread.
type PanicInfo struct {
	ThreadID ThreadID
	Thread   string
	Value    any
	Stack    []byte
}

// maxPanicStack bounds the stack trace handed to the panic handler.
const maxPanicStack = 16 << 10

var (
	panicked     atomic.Bool
	panicHandler atomic.Pointer[func(PanicInfo)]
)

// InPanicMode reports whether a thread has panicked.
func InPanicMode() bool {
	return panicked.Load()
}

// SetPanicHandler installs the process-wide handler run on the first
// thread panic. A nil fn removes it. The handler must not panic.
func SetPanicHandler(fn func(PanicInfo)) {
	if fn == nil {
		panicHandler.Store(nil)
		return
	}
	panicHandler.Store(&fn)
}

// triggerPanic runs on the panicking thread's goroutine, inside its
// deferred recover.
func triggerPanic(info PanicInfo) {
	if !panicked.CompareAndSwap(false, true) {
		return
	}
	buf := make([]byte, maxPanicStack)
	info.Stack = buf[:runtime.Stack(buf, false)]
	if fn := panicHandler.Load(); fn != nil {
		(*fn)(info)
	}
}
