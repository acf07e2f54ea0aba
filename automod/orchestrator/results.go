package orchestrator

import (
	"time"

	"github.com/chatwarden/warden/automod/handlers"
)

// Common fields of every verb's result. Expected failures are reported here, never as a Go error.
type ActionResult struct {
	Success       bool   `json:"success"`
	ChatsAffected int    `json:"chatsAffected"`
	ChatsFailed   int    `json:"chatsFailed"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

func fromOutcome(out handlers.Outcome) ActionResult {
	return ActionResult{
		Success:       out.Success,
		ChatsAffected: out.ChatsAffected,
		ChatsFailed:   out.ChatsFailed,
		ErrorMessage:  out.Error,
	}
}

func failure(msg string) ActionResult {
	return ActionResult{ErrorMessage: msg}
}

type BanResult struct {
	ActionResult
	TrustRemoved bool `json:"trustRemoved"`
}

type WarnResult struct {
	ActionResult
	WarningCount int `json:"warningCount"`
	// true only if the threshold was reached and the resulting ban succeeded
	AutoBanTriggered bool `json:"autoBanTriggered"`
}

type TrustResult struct {
	ActionResult
}

type RestrictResult struct {
	ActionResult
}

type UnbanResult struct {
	ActionResult
	TrustRestored bool `json:"trustRestored"`
}

type TempBanResult struct {
	ActionResult
	ExpiresAt time.Time `json:"expiresAt"`
}

type DeleteResult struct {
	ActionResult
}

type SpamBanResult struct {
	ActionResult
	MessageDeleted      bool `json:"messageDeleted"`
	TrustRemoved        bool `json:"trustRemoved"`
	TrainingSampleAdded bool `json:"trainingSampleAdded"`
}
