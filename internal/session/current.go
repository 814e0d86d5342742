package session

import (
	"context"

	"github.com/chronoflow/timetracker/internal/repository"
)

// IdentifyCurrent picks, from a user's valid sessions, the one that looks
// like the caller of the present request: stored user-agent and IP must both
// equal the request's exactly. With several matches (two tabs from the same
// browser behind one NAT) the most recently active wins; true simultaneity is
// broken by slice order, which is not collision-free. An explicit session id
// from the client is always a better disambiguator when available.
//
// The result is never persisted; it is recomputed per request.
func IdentifyCurrent(sessions []*repository.Session, userAgent, ipAddress string) (*repository.Session, bool) {
	var current *repository.Session
	for _, s := range sessions {
		if s.UserAgent != userAgent || s.IPAddress != ipAddress {
			continue
		}
		if current == nil || s.LastActivity.After(current.LastActivity) {
			current = s
		}
	}
	return current, current != nil
}

// CurrentSession resolves the caller's current session from request metadata.
// Returns false when no active session matches; the caller must then rely on
// an explicit session identifier if one was supplied.
func (m *LifecycleManager) CurrentSession(ctx context.Context, userID, userAgent, ipAddress string) (*repository.Session, bool, error) {
	sessions, err := m.validSessions(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	current, ok := IdentifyCurrent(sessions, userAgent, ipAddress)
	return current, ok, nil
}
