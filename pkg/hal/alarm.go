package hal

import (
	"sync"
	"time"
)

// DeadlineAlarm is a one-shot Alarm backed by the runtime timer. The armed
// flag plays the role of an RTC alarm enable bit: the fire path re-checks it
// under the same lock Disarm takes, so a disarmed alarm never delivers.
//
// The callback runs with the alarm's lock held and must not call back into
// the alarm.
type DeadlineAlarm struct {
	mu    sync.Mutex
	timer *time.Timer
	armed bool
}

func NewDeadlineAlarm() *DeadlineAlarm {
	return &DeadlineAlarm{}
}

// Arm schedules cb to run once after d. Re-arming replaces the previous
// deadline.
func (obj *DeadlineAlarm) Arm(d time.Duration, cb func()) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if obj.timer != nil {
		obj.timer.Stop()
	}
	obj.armed = true
	obj.timer = time.AfterFunc(d, func() { obj.fire(cb) })
}

func (obj *DeadlineAlarm) fire(cb func()) {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if !obj.armed {
		return
	}
	obj.armed = false
	cb()
}

// Disarm disables the alarm. Once Disarm returns the pending callback, if
// any, will not run.
func (obj *DeadlineAlarm) Disarm() {
	obj.mu.Lock()
	defer obj.mu.Unlock()
	obj.armed = false
	if obj.timer != nil {
		obj.timer.Stop()
	}
}
