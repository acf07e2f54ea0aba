// Time-bucketed counters, used for circuit breakers on automated actions.
//
// Every Increment bumps the "total", "day" and "hour" buckets of a counter at once; GetCount reads one of them.
package countstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const (
	PeriodTotal = "total"
	PeriodDay   = "day"
	PeriodHour  = "hour"
)

type CountStore interface {
	GetCount(ctx context.Context, name, val, period string) (int, error)
	Increment(ctx context.Context, name, val string) error
}

func periodBucket(name, val, period string, now time.Time) string {
	now = now.UTC()
	switch period {
	case PeriodTotal:
		return fmt.Sprintf("%s/%s", name, val)
	case PeriodDay:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format(time.DateOnly))
	case PeriodHour:
		return fmt.Sprintf("%s/%s/%s", name, val, now.Format(time.RFC3339)[0:13])
	default:
		slog.Warn("unhandled counter period", "period", period)
		return fmt.Sprintf("%s/%s", name, val)
	}
}
