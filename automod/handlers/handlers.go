// Atomic moderation operations. Each handler does one thing (record a ban, count a warning, delete a message) and reports the outcome; composing them into policy is the orchestrator's job.
package handlers

import (
	"context"
	"fmt"
	"time"

	"github.com/chatwarden/warden/automod/enforcement"
	"github.com/chatwarden/warden/models"
)

// Outcome of a single handler call.
type Outcome struct {
	Success       bool
	ChatsAffected int
	ChatsFailed   int
	Error         string
}

func failed(msg string) Outcome {
	return Outcome{Error: msg}
}

type ActionStore interface {
	AppendAction(ctx context.Context, rec *models.UserActionRecord) error
	ActiveWarningCount(ctx context.Context, userID int64, since time.Time) (int, error)
}

type Enforcer interface {
	ApplyAcrossManagedChats(ctx context.Context, userID int64, action enforcement.Action) (enforcement.Result, error)
}

// Converts a cross-chat enforcement result to an Outcome. Partial success counts as success; taking effect in no chat at all does not.
func enforcementOutcome(res enforcement.Result, err error) Outcome {
	out := Outcome{
		ChatsAffected: res.SuccessCount,
		ChatsFailed:   res.FailureCount(),
	}
	switch {
	case res.AdminProtected:
		out.Error = "user is an admin in a managed chat"
	case err != nil && res.SuccessCount == 0:
		out.Error = err.Error()
	case res.SuccessCount == 0 && res.FailureCount() > 0:
		out.Error = "enforcement failed in every chat"
	case res.SuccessCount == 0:
		out.Error = fmt.Sprintf("no enforceable chats (%d skipped by health gate)", len(res.SkippedChats))
	default:
		out.Success = true
	}
	return out
}
