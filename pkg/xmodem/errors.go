package xmodem

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates the deadline elapsed before the receiver
	// delivered a byte.
	ErrTimeout = errors.New("receive timeout")
	// ErrCancelled indicates the remote side aborted the transfer.
	ErrCancelled = errors.New("transfer cancelled by sender")
	// ErrRetriesExceeded indicates the retry budget for one block ran out.
	ErrRetriesExceeded = errors.New("retry limit exceeded")
	// ErrDesync indicates the sender and receiver disagree on the block
	// sequence beyond what a lost ACK explains.
	ErrDesync = errors.New("block sequence out of sync")
)

// HardwareError wraps a line level fault reported by the serial hardware.
// Interrupt-style callbacks never propagate errors upward directly; the
// fault is surfaced synchronously to the caller through this type.
type HardwareError struct {
	Op  string
	Err error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware error during %s: %s", e.Op, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }
