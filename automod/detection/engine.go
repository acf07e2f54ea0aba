package detection

import (
	"context"
)

// Built once per message and enriched with trust/admin context before being handed to the Engine.
type ContentCheckRequest struct {
	UserID        int64  `json:"userId"`
	ChatID        int64  `json:"chatId"`
	MessageID     int64  `json:"messageId,omitempty"`
	MessageText   string `json:"messageText"`
	IsUserTrusted bool   `json:"isUserTrusted"`
	IsUserAdmin   bool   `json:"isUserAdmin"`
}

// Multi-signal content detection. Stateless from the caller's point of view; implementations may call out to further services.
type Engine interface {
	Check(ctx context.Context, req ContentCheckRequest) (*ContentDetectionResult, error)
}

// Adapter to allow an ordinary function to be used as an Engine.
type EngineFunc func(ctx context.Context, req ContentCheckRequest) (*ContentDetectionResult, error)

func (f EngineFunc) Check(ctx context.Context, req ContentCheckRequest) (*ContentDetectionResult, error) {
	return f(ctx, req)
}
