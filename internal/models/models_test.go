package models

import (
	"testing"
	"time"
)

func TestAutomation_IsRunning(t *testing.T) {
	cases := []struct {
		state string
		want  bool
	}{
		{AutomationStateDraft, false},
		{AutomationStateActive, true},
		{AutomationStatePaused, false},
		{AutomationStateStopped, false},
	}
	for _, c := range cases {
		a := Automation{State: c.state}
		if got := a.IsRunning(); got != c.want {
			t.Errorf("IsRunning() with state %q = %v, want %v", c.state, got, c.want)
		}
	}
}

func TestAutomation_BatchWindows(t *testing.T) {
	a := Automation{BatchTimes: `["09:00","21:30"]`}
	windows := a.BatchWindows()
	if len(windows) != 2 || windows[0] != "09:00" || windows[1] != "21:30" {
		t.Errorf("BatchWindows() = %v", windows)
	}

	a = Automation{}
	if a.BatchWindows() != nil {
		t.Error("empty batch times should decode to nil")
	}

	a = Automation{BatchTimes: "not json"}
	if a.BatchWindows() != nil {
		t.Error("malformed batch times should decode to nil")
	}
}

func TestDispatchEntry_Terminal(t *testing.T) {
	terminal := []string{
		DispatchStatusSent,
		DispatchStatusDelivered,
		DispatchStatusRead,
		DispatchStatusPlayed,
		DispatchStatusSkipped,
	}
	for _, status := range terminal {
		e := DispatchEntry{Status: status}
		if !e.Terminal() {
			t.Errorf("%q should be terminal", status)
		}
	}

	live := []string{
		DispatchStatusAwaitingApproval,
		DispatchStatusPending,
		DispatchStatusProcessing,
		DispatchStatusFailed,
	}
	for _, status := range live {
		e := DispatchEntry{Status: status}
		if e.Terminal() {
			t.Errorf("%q should not be terminal", status)
		}
	}
}

func TestSessionLease_Expired(t *testing.T) {
	now := time.Now()

	l := SessionLease{OwnerID: "a", ExpiresAt: now.Add(time.Minute)}
	if l.Expired(now) {
		t.Error("a live owned lease is not expired")
	}

	l = SessionLease{OwnerID: "a", ExpiresAt: now.Add(-time.Minute)}
	if !l.Expired(now) {
		t.Error("a past expiry is expired")
	}

	l = SessionLease{OwnerID: "", ExpiresAt: now.Add(time.Minute)}
	if !l.Expired(now) {
		t.Error("an unowned lease counts as expired and reclaimable")
	}
}
