//go:build pico
// +build pico

package pico

import (
	"fmt"
	"machine"
	"sync/atomic"
	"time"

	"github.com/Hlotfy/go-xmodem-dfu/pkg/hal"
)

// HWHandler implements hal.HWHandler on a TinyGo machine.UART. The UART RX
// interrupt fills the runtime ring buffer; arming a read drains it from a
// watcher goroutine so the transport sees the same completion callback shape
// as on the host.
type HWHandler struct {
	uart  *machine.UART
	armed int32
}

func NewHWHandler(uart *machine.UART, baudRate uint32) (*HWHandler, error) {
	err := uart.Configure(machine.UARTConfig{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to configure UART: %w", err)
	}
	return &HWHandler{uart: uart}, nil
}

func (obj *HWHandler) StartRead(buf []byte, cb hal.RxCompleteCb) error {
	if len(buf) < 1 {
		return fmt.Errorf("receive buffer must hold at least one byte")
	}
	if !atomic.CompareAndSwapInt32(&obj.armed, 0, 1) {
		return fmt.Errorf("receive already armed")
	}
	go func() {
		for atomic.LoadInt32(&obj.armed) == 1 {
			if obj.uart.Buffered() == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			b, err := obj.uart.ReadByte()
			// deliver only if this window was not aborted meanwhile
			if atomic.CompareAndSwapInt32(&obj.armed, 1, 0) {
				if err == nil {
					buf[0] = b
				}
				cb(err)
			}
			return
		}
	}()
	return nil
}

func (obj *HWHandler) AbortRead() error {
	atomic.StoreInt32(&obj.armed, 0)
	return nil
}

func (obj *HWHandler) WriteByte(b byte) error {
	if err := obj.uart.WriteByte(b); err != nil {
		return fmt.Errorf("failed to write byte: %w", err)
	}
	return nil
}

func (obj *HWHandler) Close() error {
	return obj.AbortRead()
}
