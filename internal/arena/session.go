package arena

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/store"
)

// SessionKey is the user-scope key holding the PLM session.
const SessionKey = "arena_session"

// Session is the PLM authentication state. It is usable only while ID is
// non-empty; whether the server still accepts it is discovered lazily.
type Session struct {
	ID              string    `json:"id"`
	Email           string    `json:"email"`
	WorkspaceID     string    `json:"workspaceId"`
	WorkspaceName   string    `json:"workspaceName,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	LastValidatedAt time.Time `json:"lastValidatedAt"`
}

// Valid reports whether the session has an identifier.
func (s *Session) Valid() bool {
	return s != nil && s.ID != ""
}

func loadSession(ctx context.Context, st store.Store) (*Session, error) {
	raw, ok, err := st.Get(ctx, store.ScopeUser, SessionKey)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	if !ok {
		return nil, nil
	}
	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || !s.Valid() {
		// Unreadable session state means the user has to sign in again.
		_ = st.Delete(ctx, store.ScopeUser, SessionKey)
		return nil, nil
	}
	return &s, nil
}

func saveSession(ctx context.Context, st store.Store, s *Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.NewInternal(err)
	}
	if err := st.Set(ctx, store.ScopeUser, SessionKey, string(data)); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

func clearSession(ctx context.Context, st store.Store) error {
	if err := st.Delete(ctx, store.ScopeUser, SessionKey); err != nil {
		return errors.NewInternal(err)
	}
	return nil
}
