package xmodem

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/Hlotfy/go-xmodem-dfu/pkg/hal"
)

// DefaultReceiveTimeout bounds a single byte receive when the caller passes
// no explicit deadline. It mirrors the two second window the target
// bootloader keeps between protocol bytes.
const DefaultReceiveTimeout = 2 * time.Second

// rxState is the outcome of one receive attempt. It lives in a single shared
// cell written by the two event callbacks and read by ReceiveByte.
type rxState int32

const (
	rxWaiting rxState = iota
	rxByteReady
	rxHardwareError
	rxTimedOut
)

// ByteIO is the byte level surface the protocol layer drives.
type ByteIO interface {
	SendByte(b byte) error
	ReceiveByte(timeout time.Duration) (byte, error)
}

// Transport delivers exactly one received byte per call, or fails
// deterministically when the deadline elapses first. The receive-complete
// callback and the deadline callback race to resolve the shared outcome
// cell; the first transition out of rxWaiting wins and a late resolution
// falls through without a trace.
type Transport struct {
	hw    hal.HWHandler
	alarm hal.Alarm

	mu     sync.Mutex // one receive at a time
	in     [1]byte    // scratch cell, written by the armed window, read after rxByteReady
	rxErr  error      // fault detail, written before the rxHardwareError transition
	state  atomic.Int32
	gen    atomic.Uint32 // receive attempt generation, stale callbacks are dropped
	notify chan struct{}
}

// NewTransport wires the transport to its hardware. Not safe to call
// concurrently with transport operations.
func NewTransport(hw hal.HWHandler, alarm hal.Alarm) *Transport {
	return &Transport{
		hw:     hw,
		alarm:  alarm,
		notify: make(chan struct{}, 1),
	}
}

// SendByte writes exactly one byte, blocking until the hardware accepts it.
func (t *Transport) SendByte(b byte) error {
	if err := t.hw.WriteByte(b); err != nil {
		return &HardwareError{Op: "send", Err: err}
	}
	return nil
}

// ReceiveByte resets the outcome cell, arms the deadline alarm and a
// single-byte receive, waits for whichever callback resolves first and
// leaves both sources disarmed on every exit path, so a stale event from
// this call cannot touch the next one. A timeout of zero selects
// DefaultReceiveTimeout.
func (t *Transport) ReceiveByte(timeout time.Duration) (byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timeout <= 0 {
		timeout = DefaultReceiveTimeout
	}

	gen := t.gen.Add(1)
	t.state.Store(int32(rxWaiting))
	// drop a notification a previous attempt may have left behind
	select {
	case <-t.notify:
	default:
	}

	t.alarm.Arm(timeout, func() { t.resolve(gen, rxTimedOut) })
	defer t.alarm.Disarm()

	if err := t.hw.StartRead(t.in[:], func(err error) { t.complete(gen, err) }); err != nil {
		return 0, &HardwareError{Op: "receive", Err: err}
	}

	<-t.notify

	switch rxState(t.state.Load()) {
	case rxTimedOut:
		// the receive may still complete asynchronously; terminate it so
		// the late completion is discarded, byte included
		if err := t.hw.AbortRead(); err != nil {
			return 0, &HardwareError{Op: "receive", Err: err}
		}
		return 0, ErrTimeout
	case rxByteReady:
		return t.in[0], nil
	default:
		return 0, &HardwareError{Op: "receive", Err: t.rxErr}
	}
}

// complete is the receive-complete handler.
func (t *Transport) complete(gen uint32, err error) {
	if err == nil {
		t.resolve(gen, rxByteReady)
		return
	}
	if t.gen.Load() != gen {
		return
	}
	t.rxErr = err
	t.resolve(gen, rxHardwareError)
}

// resolve transitions the outcome cell out of rxWaiting. Both callbacks
// funnel through here; the compare-and-swap makes the first resolution of
// the current attempt win and the generation check drops callbacks that
// outlived their call.
func (t *Transport) resolve(gen uint32, s rxState) {
	if t.gen.Load() != gen {
		return
	}
	if !t.state.CompareAndSwap(int32(rxWaiting), int32(s)) {
		return
	}
	select {
	case t.notify <- struct{}{}:
	default:
	}
}
