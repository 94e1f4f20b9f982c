package system

import (
	"testing"
	"time"
)

func TestClockNow(t *testing.T) {
	t.Parallel()

	clock := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clock.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Before(before) || got.After(after) {
		t.Fatalf("Now() = %v outside [%v, %v]", got, before, after)
	}
	if got.Location() != time.UTC {
		t.Fatalf("Now() location = %v, want UTC", got.Location())
	}
}
