package hal

import "time"

// RxCompleteCb is called at most once per armed receive window, from the
// handler's own context, when the single-byte receive completes.
// A non nil err means the hardware reported a line level fault instead of
// delivering a byte.
type RxCompleteCb func(err error)

// HWHandler is the hardware surface the byte transport needs: a receiver
// that completes asynchronously and a synchronous transmitter.
type HWHandler interface {
	// StartRead arms a single-byte asynchronous receive. The received byte
	// is stored in buf[0] before cb runs. Only one receive may be armed at
	// a time.
	StartRead(buf []byte, cb RxCompleteCb) error
	// AbortRead cancels an in-flight receive. After AbortRead returns, the
	// callback of the aborted window does not fire anymore.
	AbortRead() error
	// WriteByte writes one byte to the line, blocking until the hardware
	// accepts it.
	WriteByte(b byte) error
	Close() error
}

// Alarm is a one-shot deadline timer. After Disarm returns, the armed
// callback does not fire anymore.
type Alarm interface {
	Arm(d time.Duration, cb func())
	Disarm()
}
