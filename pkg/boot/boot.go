package boot

import (
	"fmt"
	"time"

	"github.com/warthog618/gpiod"
)

const (
	// resetPulse is how long reset stays asserted.
	resetPulse = 10 * time.Millisecond
	// strapSettle gives the BOOT0 strap time to be latched around a reset.
	strapSettle = 100 * time.Millisecond
)

// Controller drives the target's bootstrap lines: an active low reset and
// the BOOT0 strap that selects between the serial bootloader and the
// application image at reset.
type Controller struct {
	chip  *gpiod.Chip
	reset *gpiod.Line
	boot0 *gpiod.Line
}

// NewController requests both lines as outputs. Reset is parked deasserted
// so the target keeps running until one of the mode switches is called.
func NewController(chipName string, resetPin int, boot0Pin int) (*Controller, error) {
	c, err := gpiod.NewChip(chipName, gpiod.WithConsumer("go-xmodem-dfu"))
	if err != nil {
		return nil, fmt.Errorf("failed to open GPIO chip: %w", err)
	}
	ctl := &Controller{chip: c}
	ctl.reset, err = c.RequestLine(resetPin, gpiod.AsOutput(1))
	if err != nil {
		return nil, fmt.Errorf("failed to request reset line: %w", err)
	}
	ctl.boot0, err = c.RequestLine(boot0Pin, gpiod.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("failed to request BOOT0 line: %w", err)
	}
	return ctl, nil
}

// EnterBootloader restarts the target with BOOT0 high, landing it in the
// on-chip serial bootloader that speaks the transfer protocol.
func (obj *Controller) EnterBootloader() error {
	return obj.restart(1)
}

// EnterApplication restarts the target with BOOT0 low, booting the
// application image.
func (obj *Controller) EnterApplication() error {
	return obj.restart(0)
}

func (obj *Controller) restart(boot0Value int) error {
	if err := obj.boot0.SetValue(boot0Value); err != nil {
		return fmt.Errorf("failed to set BOOT0 line: %w", err)
	}
	time.Sleep(strapSettle)
	if err := obj.reset.SetValue(0); err != nil {
		return fmt.Errorf("failed to assert reset: %w", err)
	}
	time.Sleep(resetPulse)
	if err := obj.reset.SetValue(1); err != nil {
		return fmt.Errorf("failed to release reset: %w", err)
	}
	time.Sleep(strapSettle)
	return nil
}

func (obj *Controller) Close() error {
	if err := obj.reset.Close(); err != nil {
		return fmt.Errorf("failed to close reset line: %w", err)
	}
	if err := obj.boot0.Close(); err != nil {
		return fmt.Errorf("failed to close BOOT0 line: %w", err)
	}
	if err := obj.chip.Close(); err != nil {
		return fmt.Errorf("failed to close GPIO chip: %w", err)
	}
	return nil
}
