package tenantworker

import (
	"testing"
	"time"
)

func TestBackoffDelayCapsAtThirtySeconds(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 30 * time.Second}, // 32s would overshoot, clamps to the ceiling
		{100, 30 * time.Second},
	}
	for _, c := range cases {
		if got := backoffDelay(c.attempt); got != c.want {
			t.Fatalf("backoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}
