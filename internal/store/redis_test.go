package store

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestStaleBeforePrunesOnlyExpiredHeartbeats(t *testing.T) {
	now := time.Date(2026, 5, 18, 10, 15, 30, 0, time.UTC)
	ttl := 3 * time.Second

	bound := staleBefore(now, ttl)
	if !strings.HasPrefix(bound, "(") {
		t.Fatalf("bound %q is not exclusive", bound)
	}
	cutoff, err := strconv.ParseInt(bound[1:], 10, 64)
	if err != nil {
		t.Fatalf("bound %q: %v", bound, err)
	}
	if want := now.Add(-ttl).UnixMilli(); cutoff != want {
		t.Fatalf("cutoff = %d, want %d", cutoff, want)
	}

	tests := []struct {
		name   string
		age    time.Duration
		pruned bool
	}{
		{"fresh", 0, false},
		{"within ttl", 2 * time.Second, false},
		{"exactly ttl", ttl, false},
		{"one ms past ttl", ttl + time.Millisecond, true},
		{"long dead", time.Minute, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			score := now.Add(-tt.age).UnixMilli()
			// ZREMRANGEBYSCORE -inf (cutoff removes scores strictly below cutoff
			if got := score < cutoff; got != tt.pruned {
				t.Fatalf("pruned = %v, want %v", got, tt.pruned)
			}
		})
	}
}
