// Package schedule provides the built-in cron connector: a polling
// trigger that emits one item per elapsed cron boundary.
package schedule

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/qbizns/Vodo.com-sub019/pkg/connector"
	"github.com/qbizns/Vodo.com-sub019/pkg/flowerr"
	"github.com/qbizns/Vodo.com-sub019/pkg/vault"
)

const ConnectorID = "schedule"

const (
	checkInterval = 30 * time.Second

	// maxCatchUp caps boundary replay after downtime so a subscription
	// that was offline for a week does not fire thousands of executions.
	maxCatchUp = 5
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// CronTrigger fires on cron boundaries. Each poll compares the stored
// watermark with the boundaries the expression produced since; every
// elapsed boundary becomes one item.
//
// Config:
//
//	cron  five-field cron expression (required)
type CronTrigger struct {
	connector.PollingBase

	now func() time.Time
}

func NewCronTrigger() *CronTrigger {
	return &CronTrigger{now: time.Now}
}

func (t *CronTrigger) Type() connector.TriggerType { return connector.TriggerTypePolling }

func (t *CronTrigger) Poll(_ context.Context, _ vault.Credentials, config map[string]any, state map[string]any) (*connector.PollResult, error) {
	expression, _ := config["cron"].(string)

	schedule, err := cronParser.Parse(expression)
	if err != nil {
		return nil, flowerr.NewValidationError("cron", err.Error())
	}

	now := t.now().UTC()

	// First poll establishes the watermark without firing; the
	// subscription starts counting boundaries from activation.
	watermark, ok := parseWatermark(state)
	if !ok {
		return &connector.PollResult{
			State: map[string]any{"watermark": now.Format(time.RFC3339)},
		}, nil
	}

	var items []map[string]any

	cursor := watermark

	for {
		next := schedule.Next(cursor)
		if next.After(now) {
			break
		}

		items = append(items, map[string]any{
			"fired_at":  next.Format(time.RFC3339),
			"scheduled": expression,
		})

		cursor = next
	}

	if len(items) > maxCatchUp {
		items = items[len(items)-maxCatchUp:]
	}

	return &connector.PollResult{
		Items: items,
		State: map[string]any{"watermark": now.Format(time.RFC3339)},
	}, nil
}

func parseWatermark(state map[string]any) (time.Time, bool) {
	raw, _ := state["watermark"].(string)
	if raw == "" {
		return time.Time{}, false
	}

	watermark, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}

	return watermark, true
}

// DeduplicationKey is the boundary timestamp: one event per boundary no
// matter how often the window is re-polled.
func (t *CronTrigger) DeduplicationKey(item map[string]any) string {
	firedAt, _ := item["fired_at"].(string)

	return firedAt
}

func (t *CronTrigger) PollingInterval() time.Duration { return checkInterval }

// CanTest is true: a test poll starts from an empty cursor, which only
// establishes the watermark and never fires.
func (t *CronTrigger) CanTest() bool { return true }

func (t *CronTrigger) SampleOutput() map[string]any {
	return map[string]any{
		"fired_at":  time.Now().UTC().Format(time.RFC3339),
		"scheduled": "*/5 * * * *",
	}
}

func (t *CronTrigger) Schema() map[string]any {
	return map[string]any{
		"type":     "object",
		"required": []any{"cron"},
		"properties": map[string]any{
			"cron": map[string]any{"type": "string"},
		},
	}
}
