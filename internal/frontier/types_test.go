package frontier

import "testing"

func TestCanTransition(t *testing.T) {
	t.Parallel()

	allowed := []struct{ from, to Status }{
		{StatusPending, StatusClaimed},
		{StatusClaimed, StatusDone},
		{StatusClaimed, StatusFailed},
		{StatusClaimed, StatusDead},
		{StatusClaimed, StatusPending},
		{StatusFailed, StatusPending},
		{StatusFailed, StatusDead},
	}
	for _, tc := range allowed {
		if !CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = false, want true", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusDone},
		{StatusPending, StatusFailed},
		{StatusPending, StatusDead},
		{StatusDone, StatusPending},
		{StatusDone, StatusClaimed},
		{StatusDead, StatusPending},
		{StatusFailed, StatusDone},
		{StatusFailed, StatusClaimed},
	}
	for _, tc := range denied {
		if CanTransition(tc.from, tc.to) {
			t.Errorf("CanTransition(%s, %s) = true, want false", tc.from, tc.to)
		}
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses {
		want := s == StatusDone || s == StatusDead
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
	}
}

func TestStatusValid(t *testing.T) {
	t.Parallel()

	for _, s := range AllStatuses {
		if !s.Valid() {
			t.Errorf("%s.Valid() = false", s)
		}
	}
	if Status("bogus").Valid() {
		t.Error(`Status("bogus").Valid() = true`)
	}
}
