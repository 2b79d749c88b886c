package ops

import (
	"context"
	"strings"
	"time"

	"github.com/wallcrawler78/arenadocs/internal/cache"
	"github.com/wallcrawler78/arenadocs/internal/errors"
	"github.com/wallcrawler78/arenadocs/internal/ratelimit"
	"github.com/wallcrawler78/arenadocs/internal/token"
)

// LoginInput contains parameters for the Login operation. Empty Email and
// WorkspaceID fall back to the configured defaults.
type LoginInput struct {
	Email       string
	Password    string
	WorkspaceID string
}

// LoginOutput describes the new session. The session id is never returned.
type LoginOutput struct {
	Email         string    `json:"email"`
	WorkspaceID   string    `json:"workspace_id"`
	WorkspaceName string    `json:"workspace_name,omitempty"`
	SignedInAt    time.Time `json:"signed_in_at"`
}

// Login signs in to the PLM and stores the session for the profile.
func Login(ctx context.Context, rt *Runtime, input LoginInput) (*LoginOutput, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		email = rt.Config.ArenaEmail
	}
	workspace := strings.TrimSpace(input.WorkspaceID)
	if workspace == "" {
		workspace = rt.Config.ArenaWorkspaceID
	}

	sess, err := rt.Arena.Login(ctx, email, input.Password, workspace)
	if err != nil {
		return nil, err
	}
	return &LoginOutput{
		Email:         sess.Email,
		WorkspaceID:   sess.WorkspaceID,
		WorkspaceName: sess.WorkspaceName,
		SignedInAt:    sess.CreatedAt,
	}, nil
}

// LogoutOutput contains the result of the Logout operation.
type LogoutOutput struct {
	SignedOut bool `json:"signed_out"`
}

// Logout ends the session. Cached schema data is left alone.
func Logout(ctx context.Context, rt *Runtime) (*LogoutOutput, error) {
	if err := rt.Arena.Logout(ctx); err != nil {
		return nil, err
	}
	return &LogoutOutput{SignedOut: true}, nil
}

// SessionStatus is the sign-in part of StatusOutput.
type SessionStatus struct {
	SignedIn        bool       `json:"signed_in"`
	Email           string     `json:"email,omitempty"`
	WorkspaceID     string     `json:"workspace_id,omitempty"`
	WorkspaceName   string     `json:"workspace_name,omitempty"`
	LastValidatedAt *time.Time `json:"last_validated_at,omitempty"`
}

// AIStatus is the AI part of StatusOutput.
type AIStatus struct {
	KeyConfigured bool                `json:"key_configured"`
	Model         string              `json:"model"`
	RateLimit     ratelimit.Admission `json:"rate_limit"`
	WaitSeconds   float64             `json:"wait_seconds,omitempty"`
}

// DocumentStatus is the open-document part of StatusOutput.
type DocumentStatus struct {
	ID           string              `json:"id"`
	Title        string              `json:"title"`
	Path         string              `json:"path"`
	Tokens       int                 `json:"tokens"`
	LinkedRecord *token.LinkedRecord `json:"linked_record,omitempty"`
}

// StatusOutput contains the result of the Status operation.
type StatusOutput struct {
	Profile  string          `json:"profile"`
	Session  SessionStatus   `json:"session"`
	AI       AIStatus        `json:"ai"`
	Document *DocumentStatus `json:"document,omitempty"`
	Cache    cache.Stats     `json:"cache"`
}

// Status reports local state only; it never calls a backend.
func Status(ctx context.Context, rt *Runtime) (*StatusOutput, error) {
	out := &StatusOutput{Profile: rt.Config.Profile, Cache: rt.Cache.Stats()}

	sess, err := rt.Arena.Session(ctx)
	if err != nil {
		return nil, err
	}
	if sess.Valid() {
		validated := sess.LastValidatedAt
		out.Session = SessionStatus{
			SignedIn:        true,
			Email:           sess.Email,
			WorkspaceID:     sess.WorkspaceID,
			WorkspaceName:   sess.WorkspaceName,
			LastValidatedAt: &validated,
		}
	}

	adm := rt.Limiter.Check(ctx)
	out.AI = AIStatus{
		KeyConfigured: rt.AI.HasAPIKey(ctx),
		Model:         rt.AI.Model(),
		RateLimit:     adm,
	}
	if !adm.CanProceed {
		out.AI.WaitSeconds = adm.Wait.Seconds()
	}

	if rt.DocPath != "" {
		toks, err := rt.Engine.Tokens().List(ctx)
		if err != nil {
			return nil, err
		}
		lr, err := rt.Engine.Tokens().LinkedRecord(ctx)
		if err != nil {
			return nil, err
		}
		out.Document = &DocumentStatus{
			ID:           rt.Doc.ID(),
			Title:        rt.Doc.Title(),
			Path:         rt.DocPath,
			Tokens:       len(toks),
			LinkedRecord: lr,
		}
	}
	return out, nil
}

// SetAPIKeyInput contains parameters for the SetAPIKey operation.
type SetAPIKeyInput struct {
	Key   string
	Clear bool
}

// SetAPIKeyOutput contains the result of the SetAPIKey operation.
type SetAPIKeyOutput struct {
	KeyConfigured bool `json:"key_configured"`
}

// SetAPIKey stores or removes the AI key for the profile.
func SetAPIKey(ctx context.Context, rt *Runtime, input SetAPIKeyInput) (*SetAPIKeyOutput, error) {
	if input.Clear {
		if input.Key != "" {
			return nil, errors.NewInvalidRequest("pass either a key or clear, not both")
		}
		if err := rt.AI.ClearAPIKey(ctx); err != nil {
			return nil, err
		}
	} else if err := rt.AI.SetAPIKey(ctx, input.Key); err != nil {
		return nil, err
	}
	return &SetAPIKeyOutput{KeyConfigured: rt.AI.HasAPIKey(ctx)}, nil
}
