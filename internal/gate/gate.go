// Package gate decides whether a client may proceed before the call service
// runs: active check, then a fixed one-minute request window, then monthly
// budget. Denial reasons are distinct so callers can tell a retryable
// rate-limit from a hard budget stop.
package gate

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/vnmchuo/llm-meter/internal/billing"
	"github.com/vnmchuo/llm-meter/internal/client"
	"github.com/vnmchuo/llm-meter/pkg/ratelimit"
)

type Reason string

const (
	ReasonInactive       Reason = "inactive"
	ReasonRateLimited    Reason = "rate_limited"
	ReasonBudgetExceeded Reason = "budget_exceeded"
)

type Decision struct {
	Allowed    bool
	Reason     Reason
	RetryAfter time.Duration // set for rate_limited denials
}

var allow = Decision{Allowed: true}

// budgetAlertFraction is the spend level at which an approaching-budget
// warning is logged for admitted requests.
const budgetAlertFraction = 0.8

func deny(reason Reason) Decision {
	return Decision{Reason: reason}
}

// Mode selects whether an exhausted budget blocks the request or is only
// logged. Rate limiting and the active check always enforce.
type Mode string

const (
	ModeEnforcing Mode = "enforcing"
	ModeAdvisory  Mode = "advisory"
)

type Gate struct {
	limiter *ratelimit.Limiter
	usage   billing.Store
	mode    Mode
}

func New(limiter *ratelimit.Limiter, usage billing.Store, mode Mode) *Gate {
	return &Gate{limiter: limiter, usage: usage, mode: mode}
}

// Admit runs the checks in order: active, rate window, budget. The budget
// check only applies to clients with a budget set; a client without one is
// never denied for budget reasons.
func (g *Gate) Admit(ctx context.Context, c *client.Client) (Decision, error) {
	if !c.Active {
		return deny(ReasonInactive), nil
	}

	allowed, err := g.limiter.Allow(ctx, c.ID, c.RateLimitPerMinute)
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit check failed: %w", err)
	}
	if !allowed {
		d := deny(ReasonRateLimited)
		d.RetryAfter = time.Minute
		return d, nil
	}

	if c.MonthlyBudgetUSD != nil {
		monthStart := billing.Monthly.Truncate(time.Now())
		spent, err := g.usage.MonthlyCost(ctx, c.ID, monthStart)
		if err != nil {
			return Decision{}, fmt.Errorf("budget check failed: %w", err)
		}
		if spent >= *c.MonthlyBudgetUSD {
			if g.mode == ModeAdvisory {
				log.Printf("gate: client %s over budget (%.4f >= %.2f USD), admitting in advisory mode",
					c.ID, spent, *c.MonthlyBudgetUSD)
				return allow, nil
			}
			return deny(ReasonBudgetExceeded), nil
		}
		if spent >= budgetAlertFraction*(*c.MonthlyBudgetUSD) {
			log.Printf("gate: client %s at %.0f%% of monthly budget (%.4f / %.2f USD)",
				c.ID, spent / *c.MonthlyBudgetUSD * 100, spent, *c.MonthlyBudgetUSD)
		}
	}

	return allow, nil
}
