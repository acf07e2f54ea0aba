package health

import (
	"time"

	"github.com/chatwarden/warden/models"

	"github.com/puzpuzpuz/xsync/v3"
)

// Last known state of the bot's permissions in a chat.
type ChatHealth struct {
	ChatID      int64
	Status      models.HealthStatus
	IsAdmin     bool
	CanRestrict bool
	CanDelete   bool
	CheckedAt   time.Time
	Error       string
}

// Whether the bot could ban or restrict members in this chat when last checked.
func (h ChatHealth) CanEnforce() bool {
	return h.IsAdmin && h.CanRestrict
}

// Concurrent map of chat id to last known health. Written by Monitor, read by the enforcement executor. Entries may be stale; a missing entry means "unknown" and must be treated as "do not enforce".
type Cache struct {
	chats *xsync.MapOf[int64, ChatHealth]
}

func NewCache() *Cache {
	return &Cache{chats: xsync.NewMapOf[int64, ChatHealth]()}
}

func (c *Cache) Get(chatID int64) (ChatHealth, bool) {
	return c.chats.Load(chatID)
}

func (c *Cache) Set(h ChatHealth) {
	c.chats.Store(h.ChatID, h)
}

func (c *Cache) Delete(chatID int64) {
	c.chats.Delete(chatID)
}

func (c *Cache) CanEnforce(chatID int64) bool {
	h, ok := c.chats.Load(chatID)
	return ok && h.CanEnforce()
}

func (c *Cache) Snapshot() []ChatHealth {
	out := make([]ChatHealth, 0, c.chats.Size())
	c.chats.Range(func(_ int64, h ChatHealth) bool {
		out = append(out, h)
		return true
	})
	return out
}

// Drops entries for chats not in the keep set.
func (c *Cache) Retain(keep map[int64]bool) {
	c.chats.Range(func(id int64, _ ChatHealth) bool {
		if !keep[id] {
			c.chats.Delete(id)
		}
		return true
	})
}
