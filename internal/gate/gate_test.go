package gate

import (
	"bytes"
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"

	"github.com/vnmchuo/llm-meter/internal/billing"
	"github.com/vnmchuo/llm-meter/internal/client"
	"github.com/vnmchuo/llm-meter/pkg/ratelimit"
)

type stubUsageStore struct {
	billing.Store

	monthlyCost float64
	monthlyErr  error
	gotMonth    time.Time
}

func (s *stubUsageStore) MonthlyCost(ctx context.Context, clientID string, monthStart time.Time) (float64, error) {
	s.gotMonth = monthStart
	return s.monthlyCost, s.monthlyErr
}

type stubLimiterStore struct {
	allowed bool
	err     error
}

func (s *stubLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: s.allowed}, s.err
}

func (s *stubLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: s.allowed}, s.err
}

func (s *stubLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: s.allowed}, s.err
}

func budget(v float64) *float64 { return &v }

func activeClient() *client.Client {
	return &client.Client{
		ID:                 "c1",
		Active:             true,
		RateLimitPerMinute: 100,
	}
}

func newGate(allowed bool, usage billing.Store, mode Mode) *Gate {
	limiter := ratelimit.NewTestLimiter(&stubLimiterStore{allowed: allowed})
	return New(limiter, usage, mode)
}

func TestAdmit_InactiveDenied(t *testing.T) {
	g := newGate(true, &stubUsageStore{}, ModeEnforcing)

	c := activeClient()
	c.Active = false

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInactive, d.Reason)
}

func TestAdmit_RateLimited(t *testing.T) {
	g := newGate(false, &stubUsageStore{}, ModeEnforcing)

	d, err := g.Admit(context.Background(), activeClient())
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, time.Minute, d.RetryAfter)
}

func TestAdmit_BudgetExceeded(t *testing.T) {
	usage := &stubUsageStore{monthlyCost: 100.0}
	g := newGate(true, usage, ModeEnforcing)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBudgetExceeded, d.Reason)

	// Spend is measured from the start of the current UTC month.
	assert.Equal(t, billing.Monthly.Truncate(time.Now()), usage.gotMonth)
}

func TestAdmit_UnderBudgetAllowed(t *testing.T) {
	g := newGate(true, &stubUsageStore{monthlyCost: 99.99}, ModeEnforcing)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAdmit_NoBudgetNeverDeniedForSpend(t *testing.T) {
	g := newGate(true, &stubUsageStore{monthlyCost: 1e9}, ModeEnforcing)

	d, err := g.Admit(context.Background(), activeClient())
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAdmit_AdvisoryModeLogsAndAllows(t *testing.T) {
	g := newGate(true, &stubUsageStore{monthlyCost: 500.0}, ModeAdvisory)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestAdmit_BudgetAlertLogged(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	g := newGate(true, &stubUsageStore{monthlyCost: 85.0}, ModeEnforcing)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "alert threshold must warn, not deny")
	assert.Contains(t, buf.String(), "monthly budget")
	assert.Contains(t, buf.String(), "85%")
}

func TestAdmit_NoBudgetAlertWellUnderThreshold(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)

	g := newGate(true, &stubUsageStore{monthlyCost: 50.0}, ModeEnforcing)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Empty(t, buf.String())
}

func TestAdmit_BudgetCheckErrorPropagates(t *testing.T) {
	g := newGate(true, &stubUsageStore{monthlyErr: errors.New("db down")}, ModeEnforcing)

	c := activeClient()
	c.MonthlyBudgetUSD = budget(100.0)

	_, err := g.Admit(context.Background(), c)
	assert.Error(t, err)
}

func TestAdmit_CheckOrder(t *testing.T) {
	// An inactive client over budget is denied as inactive: the active
	// check runs first and neither limiter nor ledger is consulted.
	g := newGate(false, &stubUsageStore{monthlyCost: 1e9}, ModeEnforcing)

	c := activeClient()
	c.Active = false
	c.MonthlyBudgetUSD = budget(1.0)

	d, err := g.Admit(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ReasonInactive, d.Reason)
}
