package xmodem

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Hlotfy/go-xmodem-dfu/pkg/hal"
)

// fakeHW emulates the hardware receiver: one armed single-byte window whose
// completion the test injects. Like real hardware, an event injected after
// the window was disarmed is dropped.
type fakeHW struct {
	mu      sync.Mutex
	armed   bool
	buf     []byte
	cb      hal.RxCompleteCb
	sent     []byte
	sendErr  error
	startErr error
	armedCh  chan struct{}
}

func newFakeHW() *fakeHW {
	return &fakeHW{armedCh: make(chan struct{}, 4)}
}

func (f *fakeHW) StartRead(buf []byte, cb hal.RxCompleteCb) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.armed, f.buf, f.cb = true, buf, cb
	select {
	case f.armedCh <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeHW) AbortRead() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.armed = false
	return nil
}

func (f *fakeHW) WriteByte(b byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, b)
	return nil
}

func (f *fakeHW) Close() error { return nil }

// injectByte completes the armed window with b. It reports whether the
// window accepted the event.
func (f *fakeHW) injectByte(b byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return false
	}
	f.armed = false
	f.buf[0] = b
	f.cb(nil)
	return true
}

// injectError completes the armed window with a hardware fault.
func (f *fakeHW) injectError(err error) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.armed {
		return false
	}
	f.armed = false
	f.cb(err)
	return true
}

func (f *fakeHW) isArmed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

// fakeAlarm lets the test fire the deadline deterministically.
type fakeAlarm struct {
	mu    sync.Mutex
	armed bool
	cb    func()
	d     time.Duration
}

func (a *fakeAlarm) Arm(d time.Duration, cb func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed, a.cb, a.d = true, cb, d
}

func (a *fakeAlarm) Disarm() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.armed = false
}

func (a *fakeAlarm) fire() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.armed {
		return false
	}
	a.armed = false
	a.cb()
	return true
}

func TestReceiveByteDelivered(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	go func() {
		<-hw.armedCh
		hw.injectByte(0x06)
	}()

	b, err := tr.ReceiveByte(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte(0x06), b)
}

func TestReceiveByteTimeout(t *testing.T) {
	hw := newFakeHW()
	tr := NewTransport(hw, hal.NewDeadlineAlarm())

	const timeout = 50 * time.Millisecond
	start := time.Now()
	_, err := tr.ReceiveByte(timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrTimeout)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.Less(t, elapsed, 10*timeout)
	// the in-flight receive must have been terminated before returning
	require.False(t, hw.isArmed())
}

func TestReceiveByteHardwareError(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)
	errOverrun := errors.New("overrun")

	go func() {
		<-hw.armedCh
		hw.injectError(errOverrun)
	}()

	start := time.Now()
	_, err := tr.ReceiveByte(time.Second)
	// the error is reported immediately, not after the full timeout
	require.Less(t, time.Since(start), 500*time.Millisecond)
	require.ErrorIs(t, err, errOverrun)
	var hwErr *HardwareError
	require.ErrorAs(t, err, &hwErr)
}

func TestSendByte(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	require.NoError(t, tr.SendByte(0x15))
	require.Equal(t, []byte{0x15}, hw.sent)
}

func TestSendByteHardwareError(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	hw.sendErr = errors.New("line busy")
	tr := NewTransport(hw, alarm)

	err := tr.SendByte(0x15)
	var hwErr *HardwareError
	require.ErrorAs(t, err, &hwErr)
	require.ErrorIs(t, err, hw.sendErr)
}

// The outcome of a call is exactly one of byte, timeout or hardware error.
// A deadline that fires right after the byte landed must not turn a
// successful receive into a timeout.
func TestOutcomeExclusive(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	fired := make(chan bool, 1)
	go func() {
		<-hw.armedCh
		hw.injectByte(0x42)
		fired <- alarm.fire()
	}()

	b, err := tr.ReceiveByte(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
	<-fired
}

// A completion event that arrives after the previous call already timed out
// must not leak into the next call.
func TestLateCompletionDiscarded(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	go func() {
		<-hw.armedCh
		alarm.fire()
	}()
	_, err := tr.ReceiveByte(time.Second)
	require.ErrorIs(t, err, ErrTimeout)

	// the window was terminated, the stale byte has nowhere to go
	require.False(t, hw.injectByte(0xAA))

	go func() {
		<-hw.armedCh
		hw.injectByte(0x42)
	}()
	b, err := tr.ReceiveByte(time.Second)
	require.NoError(t, err)
	require.Equal(t, byte(0x42), b)
}

// Sequential receives each observe their own byte, no cross contamination.
func TestSequentialReceives(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	for _, want := range []byte{0x01, 0x02, 0x03} {
		want := want
		go func() {
			<-hw.armedCh
			hw.injectByte(want)
		}()
		b, err := tr.ReceiveByte(time.Second)
		require.NoError(t, err)
		require.Equal(t, want, b)
	}
}

func TestStartReadFailureSurfaces(t *testing.T) {
	hw, alarm := newFakeHW(), &fakeAlarm{}
	tr := NewTransport(hw, alarm)

	errBusy := errors.New("receiver busy")
	hw.startErr = errBusy

	_, err := tr.ReceiveByte(time.Second)
	var hwErr *HardwareError
	require.ErrorAs(t, err, &hwErr)
	require.ErrorIs(t, err, errBusy)
}
