// Decides per message whether content detection runs at all, only for critical checks, or in full.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/chatwarden/warden/automod/detection"
	"github.com/chatwarden/warden/automod/event"
)

const ReasonSystemAccount = "platform system account"
const ReasonCriticalPassed = "critical checks passed"

type TrustRepository interface {
	IsTrusted(ctx context.Context, userID int64) (bool, error)
}

type AdminRepository interface {
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

type ConfigService interface {
	CriticalCheckNames(ctx context.Context, chatID int64) ([]string, error)
}

type Result struct {
	IsUserTrusted    bool
	IsUserAdmin      bool
	SpamCheckSkipped bool
	// empty when detection was not skipped
	SkipReason              string
	CriticalCheckViolations []string
	// nil when detection never ran
	SpamResult *detection.ContentDetectionResult
}

// Whether the result should be handed to the router.
func (r *Result) NeedsRouting() bool {
	return !r.SpamCheckSkipped || len(r.CriticalCheckViolations) > 0
}

type Gate struct {
	Trust    TrustRepository
	Admins   AdminRepository
	Config   ConfigService
	Detector detection.Engine
	Logger   *slog.Logger
}

func New(trust TrustRepository, admins AdminRepository, cfg ConfigService, detector detection.Engine, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		Trust:    trust,
		Admins:   admins,
		Config:   cfg,
		Detector: detector,
		Logger:   logger.With("component", "gate"),
	}
}

// Evaluates one message. The request's trust and admin flags are filled in before detection runs. An error is returned only if the detection engine itself failed.
func (g *Gate) Evaluate(ctx context.Context, req detection.ContentCheckRequest) (*Result, error) {
	// system messages can arrive before any user record exists; touch nothing
	if event.IsSystemAccount(req.UserID) {
		gateDecisions.WithLabelValues("system_account").Inc()
		return &Result{
			IsUserTrusted:    true,
			SpamCheckSkipped: true,
			SkipReason:       ReasonSystemAccount,
		}, nil
	}
	logger := g.Logger.With("chat", req.ChatID, "user", req.UserID, "message", req.MessageID)

	trusted, err := g.Trust.IsTrusted(ctx, req.UserID)
	if err != nil {
		logger.Warn("trust lookup failed, treating user as untrusted", "err", err)
		trusted = false
	}
	admin, err := g.Admins.IsAdmin(ctx, req.ChatID, req.UserID)
	if err != nil {
		logger.Warn("admin lookup failed, treating user as non-admin", "err", err)
		admin = false
	}
	critical, err := g.Config.CriticalCheckNames(ctx, req.ChatID)
	if err != nil {
		logger.Warn("loading critical checks failed, assuming none", "err", err)
		critical = nil
	}

	req.IsUserTrusted = trusted
	req.IsUserAdmin = admin
	res := &Result{IsUserTrusted: trusted, IsUserAdmin: admin}

	if !trusted && !admin {
		spam, err := g.Detector.Check(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("content detection: %w", err)
		}
		res.SpamResult = spam
		gateDecisions.WithLabelValues("full").Inc()
		return res, nil
	}

	if len(critical) == 0 {
		res.SpamCheckSkipped = true
		res.SkipReason = privilegedReason(trusted, admin) + ", no critical checks configured"
		gateDecisions.WithLabelValues("skipped").Inc()
		return res, nil
	}

	// critical checks can't be bypassed by trust
	spam, err := g.Detector.Check(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("content detection (critical checks): %w", err)
	}
	violations := criticalViolations(spam, critical)
	if len(violations) == 0 {
		res.SpamCheckSkipped = true
		res.SkipReason = ReasonCriticalPassed
		gateDecisions.WithLabelValues("critical_passed").Inc()
		return res, nil
	}

	logger.Info("critical check violation by privileged user", "violations", violations)
	res.SpamResult = spam
	res.CriticalCheckViolations = violations
	gateDecisions.WithLabelValues("critical_violation").Inc()
	return res, nil
}

// Trust is named first when both apply.
func privilegedReason(trusted, admin bool) string {
	switch {
	case trusted && admin:
		return "user is trusted and admin"
	case trusted:
		return "user is trusted"
	default:
		return "user is admin"
	}
}

// One line per non-Ham result of a configured critical check. Names match case-insensitively.
func criticalViolations(spam *detection.ContentDetectionResult, critical []string) []string {
	var out []string
	for _, r := range spam.Results() {
		if r.Result == detection.Ham || !containsFold(critical, r.CheckName) {
			continue
		}
		line := fmt.Sprintf("%s: %s (confidence %d)", r.CheckName, r.Result, r.Confidence)
		if r.Details != "" {
			line += " - " + r.Details
		}
		out = append(out, line)
	}
	return out
}

func containsFold(names []string, name string) bool {
	for _, n := range names {
		if strings.EqualFold(strings.TrimSpace(n), name) {
			return true
		}
	}
	return false
}
