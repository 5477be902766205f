package hal

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// readPollInterval bounds how long an aborted read goroutine can stay blocked
// on the port before it observes the disarm.
const readPollInterval = 50 * time.Millisecond

// CommonHWHandler implements HWHandler on top of a host serial port.
// The line is fixed at 8 data bits, no parity, 1 stop bit, no hardware flow
// control, which is what the target bootloader expects.
//
// Completion callbacks run with the handler's internal lock held and must not
// call back into the handler.
type CommonHWHandler struct {
	tty          string
	serialStream io.ReadWriteCloser
	muArm        sync.Mutex // guards the armed window and callback delivery
	armed        bool
	window       uint32     // identifies the armed window, completions of older windows are dropped
	muWrite      sync.Mutex // serializes writes to the line
}

// NewCommonHWHandler opens ttyName at the given baud rate.
func NewCommonHWHandler(ttyName string, baudRate int) (*CommonHWHandler, error) {
	config := &serial.Config{
		Name:        ttyName,
		Baud:        baudRate,
		Size:        8,
		Parity:      serial.ParityNone,
		StopBits:    serial.Stop1,
		ReadTimeout: readPollInterval,
	}
	stream, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", ttyName, err)
	}
	return newCommonHWHandler(ttyName, stream), nil
}

// newCommonHWHandler wires an already open stream. The stream must return
// from Read within a bounded time when no data arrives, either with (0, nil),
// io.EOF or a timeout error, so that AbortRead can take effect.
func newCommonHWHandler(ttyName string, stream io.ReadWriteCloser) *CommonHWHandler {
	return &CommonHWHandler{tty: ttyName, serialStream: stream}
}

// StartRead arms a single-byte receive. The read itself happens on a
// background goroutine so the caller observes the same fire-and-forget
// semantics an interrupt driven receiver has.
func (obj *CommonHWHandler) StartRead(buf []byte, cb RxCompleteCb) error {
	if len(buf) < 1 {
		return fmt.Errorf("receive buffer must hold at least one byte")
	}
	obj.muArm.Lock()
	defer obj.muArm.Unlock()
	if obj.armed {
		return fmt.Errorf("receive already armed on %s", obj.tty)
	}
	obj.armed = true
	obj.window++
	go obj.readLoop(obj.window, buf, cb)
	return nil
}

func (obj *CommonHWHandler) readLoop(window uint32, buf []byte, cb RxCompleteCb) {
	single := make([]byte, 1)
	for {
		obj.muArm.Lock()
		armed := obj.armed && obj.window == window
		obj.muArm.Unlock()
		if !armed {
			return
		}

		n, err := obj.serialStream.Read(single)
		switch {
		case n > 0:
			obj.completeRead(window, cb, buf, single[0], nil)
			return
		case err == nil || errors.Is(err, io.EOF) || os.IsTimeout(err):
			// poll tick, no data arrived yet
		default:
			obj.completeRead(window, cb, buf, 0, err)
			return
		}
	}
}

// completeRead delivers the result of one armed window. A window that was
// aborted while the read was completing is dropped, byte included.
func (obj *CommonHWHandler) completeRead(window uint32, cb RxCompleteCb, buf []byte, b byte, err error) {
	obj.muArm.Lock()
	defer obj.muArm.Unlock()
	if !obj.armed || obj.window != window {
		return
	}
	obj.armed = false
	if err == nil {
		buf[0] = b
	}
	cb(err)
}

// AbortRead cancels the armed receive. Holding muArm here is what guarantees
// that no callback fires after AbortRead returns.
func (obj *CommonHWHandler) AbortRead() error {
	obj.muArm.Lock()
	defer obj.muArm.Unlock()
	obj.armed = false
	return nil
}

// WriteByte pushes one byte onto the line.
func (obj *CommonHWHandler) WriteByte(b byte) error {
	obj.muWrite.Lock()
	defer obj.muWrite.Unlock()
	n, err := obj.serialStream.Write([]byte{b})
	if err != nil {
		return fmt.Errorf("failed to write byte to %s: %w", obj.tty, err)
	}
	if n != 1 {
		return fmt.Errorf("short write to %s", obj.tty)
	}
	return nil
}

func (obj *CommonHWHandler) Close() error {
	if err := obj.AbortRead(); err != nil {
		return err
	}
	if err := obj.serialStream.Close(); err != nil {
		return fmt.Errorf("failed to close serial stream: %w", err)
	}
	return nil
}
