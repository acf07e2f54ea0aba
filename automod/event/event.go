package event

import (
	"time"
)

// Inbound chat message, as observed by the daemon. Immutable.
type Message struct {
	ChatID    int64
	MessageID int64
	UserID    int64
	// Display name of the sender; may be empty.
	UserName string
	Text     string
	SentAt   time.Time
	// Set when the message carried a file or image, for logging only.
	HasMedia bool
}

// Platform service accounts. Messages from these identities are never checked or moderated: they can arrive before any user record exists, and checking them risks feedback loops.
var systemAccountIDs = map[int64]string{
	777000:     "Telegram service notifications",
	1087968824: "GroupAnonymousBot",
	136817688:  "Channel_Bot",
	1271266957: "Replies bot",
}

func IsSystemAccount(userID int64) bool {
	_, ok := systemAccountIDs[userID]
	return ok
}

// Returns a copy of the system account set, keyed by user id.
func SystemAccounts() map[int64]string {
	out := make(map[int64]string, len(systemAccountIDs))
	for k, v := range systemAccountIDs {
		out[k] = v
	}
	return out
}
