package session

import (
	"testing"
	"time"

	"github.com/chronoflow/timetracker/internal/repository"
)

func TestIdentifyCurrent_ExactMatchRequired(t *testing.T) {
	now := time.Now().UTC()

	match := testSession("user-1", now)
	match.UserAgent = "Mozilla/5.0"
	match.IPAddress = "203.0.113.10"

	otherUA := testSession("user-1", now)
	otherUA.UserAgent = "curl/8.0"
	otherUA.IPAddress = "203.0.113.10"

	otherIP := testSession("user-1", now)
	otherIP.UserAgent = "Mozilla/5.0"
	otherIP.IPAddress = "198.51.100.7"

	sessions := []*repository.Session{otherUA, match, otherIP}

	current, ok := IdentifyCurrent(sessions, "Mozilla/5.0", "203.0.113.10")
	if !ok {
		t.Fatal("expected a current session")
	}
	if current.ID != match.ID {
		t.Errorf("picked wrong session: got %s, want %s", current.ID, match.ID)
	}
}

func TestIdentifyCurrent_NoMatch(t *testing.T) {
	now := time.Now().UTC()
	sessions := []*repository.Session{testSession("user-1", now)}

	if _, ok := IdentifyCurrent(sessions, "unknown-agent", "192.0.2.1"); ok {
		t.Error("expected no current session for unmatched metadata")
	}
}

func TestIdentifyCurrent_MostRecentWinsOnTie(t *testing.T) {
	now := time.Now().UTC()

	older := testSession("user-1", now.Add(-time.Hour))
	newer := testSession("user-1", now)

	// Same browser behind the same NAT.
	for _, s := range []*repository.Session{older, newer} {
		s.UserAgent = "Mozilla/5.0"
		s.IPAddress = "203.0.113.10"
	}

	current, ok := IdentifyCurrent([]*repository.Session{older, newer}, "Mozilla/5.0", "203.0.113.10")
	if !ok {
		t.Fatal("expected a current session")
	}
	if current.ID != newer.ID {
		t.Error("expected the most recently active session to win")
	}
}

func TestIdentifyCurrent_EmptySlice(t *testing.T) {
	if _, ok := IdentifyCurrent(nil, "Mozilla/5.0", "203.0.113.10"); ok {
		t.Error("expected no current session from empty input")
	}
}
