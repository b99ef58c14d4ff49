package counter

import (
	"context"
	"strconv"

	"github.com/grouphive/grouphive/internal/pkg/cache"
)

const webhookOutcomesKey = "billing:counters:webhook_outcomes"

// AddWebhookOutcome increments the counter for one processing outcome
// (applied, duplicate, skipped, ignored, failed) in Redis. Called after the
// transaction committed; a counter failure never affects the financial write.
func AddWebhookOutcome(outcome string) error {
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// WebhookOutcomeTotals returns the accumulated per-outcome counts.
func WebhookOutcomeTotals() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		totals[outcome] = n
	}
	return totals, nil
}

// ResetWebhookOutcomes clears the counters, e.g. after an export.
func ResetWebhookOutcomes() error {
	ctx := context.Background()
	return cache.GetClient().Del(ctx, webhookOutcomesKey).Err()
}
