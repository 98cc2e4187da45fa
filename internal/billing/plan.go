package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
)

// ErrLimitReached is returned when a free space hits a monthly plan cap.
var ErrLimitReached = errors.New("plan limit reached")

// Monthly caps per metric on the free plan. Metrics without an entry are
// tracked but never capped. Plus spaces have no caps at all.
var freeLimits = map[string]int64{
	model.MetricTasksCreated:     200,
	model.MetricEventsCreated:    500,
	model.MetricMessagesPosted:   1000,
	model.MetricExportsRequested: 2,
	model.MetricMembersInvited:   5,
}

// Live calendar connection caps by plan, enforced against the current
// connection count rather than a monthly counter.
const (
	freeMaxConnections = 1
	plusMaxConnections = 5
)

// Gate enforces per-plan usage caps. Handlers call Allow before creating a
// capped resource and Record after the create succeeds.
type Gate struct {
	subs   *store.SubscriptionStore
	usage  *store.UsageStore
	logger *slog.Logger
}

func NewGate(subs *store.SubscriptionStore, usage *store.UsageStore, logger *slog.Logger) *Gate {
	return &Gate{subs: subs, usage: usage, logger: logger.With("component", "plan_gate")}
}

// Plan returns a space's effective plan. Spaces without a subscription row
// and spaces whose subscription has been canceled are free. A past_due plus
// subscription keeps its plan until Stripe cancels it.
func (g *Gate) Plan(spaceID int64) (string, error) {
	sub, err := g.subs.GetBySpaceID(spaceID)
	if err != nil {
		return "", fmt.Errorf("get subscription: %w", err)
	}
	if sub == nil || sub.Plan != model.PlanPlus || sub.Status == model.SubStatusCanceled {
		return model.PlanFree, nil
	}
	return model.PlanPlus, nil
}

// Allow reports whether the space may create another unit of metric this
// period. Returns ErrLimitReached when a free-plan cap is hit.
func (g *Gate) Allow(spaceID int64, metric string, now time.Time) error {
	plan, err := g.Plan(spaceID)
	if err != nil {
		return err
	}
	if plan == model.PlanPlus {
		return nil
	}

	limit, capped := freeLimits[metric]
	if !capped {
		return nil
	}

	count, err := g.usage.Get(spaceID, metric, store.CurrentPeriod(now))
	if err != nil {
		return fmt.Errorf("get usage: %w", err)
	}
	if count >= limit {
		return ErrLimitReached
	}
	return nil
}

// Record bumps the metric's counter for the current period. Failures are
// logged, not surfaced: a miscount must never fail the create it follows.
func (g *Gate) Record(spaceID int64, metric string, now time.Time) {
	if _, err := g.usage.Increment(spaceID, metric, now); err != nil {
		g.logger.Error("increment usage", "space_id", spaceID, "metric", metric, "error", err)
	}
}

// Limits returns the monthly caps that apply to a plan. Plus plans have
// none.
func (g *Gate) Limits(plan string) map[string]int64 {
	if plan == model.PlanPlus {
		return map[string]int64{}
	}
	limits := make(map[string]int64, len(freeLimits))
	for metric, limit := range freeLimits {
		limits[metric] = limit
	}
	return limits
}

// MaxConnections returns the live calendar connection cap for a space.
func (g *Gate) MaxConnections(spaceID int64) (int, error) {
	plan, err := g.Plan(spaceID)
	if err != nil {
		return 0, err
	}
	if plan == model.PlanPlus {
		return plusMaxConnections, nil
	}
	return freeMaxConnections, nil
}
