// Identity of whoever initiated a moderation action.
//
// An Actor is created at the call site and never mutated. The zero value is not a valid actor; use one of the constructors or package-level values.
package actor

import (
	"fmt"
	"strconv"
)

type Kind string

const (
	KindSystem        Kind = "system"
	KindTelegramUser  Kind = "telegram_user"
	KindWebUser       Kind = "web_user"
	KindAutoDetection Kind = "auto_detection"
	KindAutoBan       Kind = "auto_ban"
	KindFileScanner   Kind = "file_scanner"
)

// Tagged union over the Kind field. Which of the other fields are meaningful depends on Kind:
//
//   - System: Name
//   - TelegramUser: UserID, Name (display name)
//   - WebUser: WebUserID, Email
//   - AutoDetection, AutoBan, FileScanner: none
//
// Field names and gorm tags allow embedding in persisted records with a column prefix.
type Actor struct {
	Kind      Kind   `gorm:"column:kind" json:"kind"`
	UserID    int64  `gorm:"column:user_id" json:"userId,omitempty"`
	WebUserID string `gorm:"column:web_user_id" json:"webUserId,omitempty"`
	Name      string `gorm:"column:name" json:"name,omitempty"`
	Email     string `gorm:"column:email" json:"email,omitempty"`
}

var (
	AutoDetection = Actor{Kind: KindAutoDetection}
	AutoBan       = Actor{Kind: KindAutoBan}
	FileScanner   = Actor{Kind: KindFileScanner}
)

func System(name string) Actor {
	return Actor{Kind: KindSystem, Name: name}
}

func TelegramUser(id int64, displayName string) Actor {
	return Actor{Kind: KindTelegramUser, UserID: id, Name: displayName}
}

func WebUser(id, email string) Actor {
	return Actor{Kind: KindWebUser, WebUserID: id, Email: email}
}

// Whether the action was initiated by an automated component rather than a human.
func (a Actor) IsAutomated() bool {
	switch a.Kind {
	case KindAutoDetection, KindAutoBan, KindFileScanner, KindSystem:
		return true
	default:
		return false
	}
}

func (a Actor) Valid() bool {
	switch a.Kind {
	case KindSystem:
		return a.Name != ""
	case KindTelegramUser:
		return a.UserID != 0
	case KindWebUser:
		return a.WebUserID != ""
	case KindAutoDetection, KindAutoBan, KindFileScanner:
		return true
	default:
		return false
	}
}

// Short human-readable label, used in audit entries and notifications.
func (a Actor) DisplayName() string {
	switch a.Kind {
	case KindSystem:
		return "System (" + a.Name + ")"
	case KindTelegramUser:
		if a.Name != "" {
			return a.Name
		}
		return "user " + strconv.FormatInt(a.UserID, 10)
	case KindWebUser:
		if a.Email != "" {
			return a.Email
		}
		return "web user " + a.WebUserID
	case KindAutoDetection:
		return "Auto-Detection"
	case KindAutoBan:
		return "Auto-Ban"
	case KindFileScanner:
		return "File Scanner"
	default:
		return "unknown"
	}
}

func (a Actor) String() string {
	switch a.Kind {
	case KindSystem:
		return fmt.Sprintf("system:%s", a.Name)
	case KindTelegramUser:
		return fmt.Sprintf("telegram:%d", a.UserID)
	case KindWebUser:
		return fmt.Sprintf("web:%s", a.WebUserID)
	default:
		return string(a.Kind)
	}
}
