package mio

import "testing"

func TestTimerQueueScheduleOrdersByDueTime(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	var order []string
	q.Schedule(30, 0, ModeAbsolute, func(*Timer) { order = append(order, "c") }, nil)
	q.Schedule(10, 0, ModeAbsolute, func(*Timer) { order = append(order, "a") }, nil)
	q.Schedule(20, 0, ModeAbsolute, func(*Timer) { order = append(order, "b") }, nil)

	q.RunDue(100)

	want := []string{"a", "b", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestTimerQueueRunDueSkipsFutureTimers(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	fired := 0
	q.Schedule(5, 0, ModeAbsolute, func(*Timer) { fired++ }, nil)
	q.Schedule(50, 0, ModeAbsolute, func(*Timer) { fired++ }, nil)

	q.RunDue(10)
	if fired != 1 {
		t.Fatalf("fired = %d after RunDue(10), want 1", fired)
	}
	if got, ok := q.NextDeadlineMS(); !ok || got != 50 {
		t.Errorf("NextDeadlineMS() = (%d, %v), want (50, true)", got, ok)
	}
}

func TestTimerQueueCancelPreventsFiring(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	fired := false
	timer := q.Schedule(5, 0, ModeAbsolute, func(*Timer) { fired = true }, nil)
	q.Cancel(timer)
	q.RunDue(100)

	if fired {
		t.Error("cancelled timer should not have fired")
	}
	if got := timer.Status(); got != TimerCancelled {
		t.Errorf("Status() = %v, want TimerCancelled", got)
	}
}

func TestTimerQueueModeAbsoluteRearmUsesPreFireDue(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	var dues []int64
	timer := q.Schedule(10, 10, ModeAbsolute, func(h *Timer) {
		dues = append(dues, h.DueMS)
	}, nil)
	firstDue := timer.DueMS

	// Fire well past the first two periods in one RunDue call: absolute
	// rearm bases each next due on the fire's scheduled time, not "now",
	// so drift never accumulates even though the callback runs late.
	q.RunDue(firstDue + 25)

	if len(dues) != 3 {
		t.Fatalf("fired %d times, want 3 (due firstDue, +10, +20 all within window)", len(dues))
	}
	// Each re-arm happens before its callback runs, so a callback sees the
	// next due time: one period after the due time that fired it.
	if dues[0] != firstDue+10 || dues[1] != firstDue+20 || dues[2] != firstDue+30 {
		t.Errorf("DueMS seen by callbacks = %v, want [%d %d %d]", dues, firstDue+10, firstDue+20, firstDue+30)
	}
}

func TestTimerQueueModeRelativeRearmFromNow(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	fired := 0
	q.Schedule(5, 10, ModeRelative, func(*Timer) { fired++ }, nil)

	// Relative mode re-arms from "now" (the clock reading at completion),
	// so a single RunDue call only ever fires it once even if the
	// horizon nominally covers several periods.
	q.RunDue(100)
	if fired != 1 {
		t.Errorf("fired = %d after one RunDue call under ModeRelative, want 1", fired)
	}
}

func TestTimerQueueRescheduleMovesDueTime(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	fired := false
	timer := q.Schedule(5, 0, ModeAbsolute, func(*Timer) { fired = true }, nil)
	q.Reschedule(timer, 100)

	q.RunDue(10)
	if fired {
		t.Error("rescheduled timer fired before its new due time")
	}

	q.RunDue(200)
	if !fired {
		t.Error("rescheduled timer never fired by its new due time")
	}
}

func TestTimerQueueAdjustShiftsDueTime(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	timer := q.Schedule(10, 0, ModeAbsolute, func(*Timer) {}, nil)
	q.Adjust(timer, 5)

	if timer.DueMS != 15 {
		t.Errorf("DueMS = %d after Adjust(+5), want 15", timer.DueMS)
	}
}

func TestTimerQueueLenReflectsPending(t *testing.T) {
	clock := NewClock()
	q := NewTimerQueue(clock)

	if q.Len() != 0 {
		t.Fatalf("Len() = %d on empty queue, want 0", q.Len())
	}
	q.Schedule(10, 0, ModeAbsolute, func(*Timer) {}, nil)
	q.Schedule(20, 0, ModeAbsolute, func(*Timer) {}, nil)
	if q.Len() != 2 {
		t.Errorf("Len() = %d after two schedules, want 2", q.Len())
	}
}
