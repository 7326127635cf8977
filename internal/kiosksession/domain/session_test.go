package domain

import (
	"testing"
	"time"
)

func TestSession_Active(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	testCases := []struct {
		name string
		s    Session
		want bool
	}{
		{"open and in lifetime", Session{ExpiresAt: now.Add(time.Hour)}, true},
		{"expires exactly now", Session{ExpiresAt: now}, false},
		{"past lifetime", Session{ExpiresAt: now.Add(-time.Second)}, false},
		{"ended", Session{ExpiresAt: now.Add(time.Hour), EndedAt: &ended}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.s.Active(now); got != tc.want {
				t.Errorf("Active = %v, want %v", got, tc.want)
			}
			if tc.s.Ended() != (tc.s.EndedAt != nil) {
				t.Error("Ended disagrees with EndedAt")
			}
		})
	}
}
