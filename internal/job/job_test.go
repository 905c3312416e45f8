package job

import (
	"testing"
	"time"
)

func TestNewDerivesExpiry(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := New("sleep 5", 10, now)

	if j.ID == "" {
		t.Fatal("expected generated id")
	}
	if !j.Expires.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("unexpected expiry %v", j.Expires)
	}
	if len(j.ShortID()) != 8 {
		t.Fatalf("expected 8 char short id, got %q", j.ShortID())
	}
}

func TestValid(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tests := []struct {
		name string
		ttl  int
		at   time.Duration
		want bool
	}{
		{"no ttl long after", 0, 365 * 24 * time.Hour, true},
		{"within ttl", 5, 4 * time.Second, true},
		{"exactly at expiry", 5, 5 * time.Second, false},
		{"after expiry", 1, 2 * time.Second, false},
		{"negative ttl clamps to never", -3, time.Hour, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := New("true", tt.ttl, now)
			if got := j.Valid(now.Add(tt.at)); got != tt.want {
				t.Fatalf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRemaining(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	j := New("true", 10, now)
	if got := j.Remaining(now.Add(4 * time.Second)); got != 6*time.Second {
		t.Fatalf("Remaining() = %v, want 6s", got)
	}
	if got := j.Remaining(now.Add(time.Minute)); got != 0 {
		t.Fatalf("expected zero remaining after expiry, got %v", got)
	}
	if got := New("true", 0, now).Remaining(now); got != 0 {
		t.Fatalf("expected zero remaining without ttl, got %v", got)
	}
}
