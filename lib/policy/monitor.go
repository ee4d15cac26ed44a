/*
 * Triggerr
 * Copyright (C) 2025  Triggerr, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

package policy

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/e3o8o/triggerr-sub002/lib/aggregator"
	"github.com/e3o8o/triggerr-sub002/lib/canonical"
	"github.com/e3o8o/triggerr-sub002/lib/defaults"
	"github.com/e3o8o/triggerr-sub002/lib/escrow"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/sources"
	"github.com/e3o8o/triggerr-sub002/lib/utils"
)

// systemActor marks events appended by the monitor itself.
const systemActor = "system"

// DefaultMonitoringWindow is how long after the flight date a policy stays
// monitored before it expires.
const DefaultMonitoringWindow = 48 * time.Hour

// MonitorConfig configures a lifecycle Monitor.
type MonitorConfig struct {
	// Store persists policies and their event logs.
	Store Store
	// Quotes resolves the quote a purchase refers to.
	Quotes quote.Store
	// Flights supplies the canonical flight state for trigger evaluation.
	Flights *aggregator.Flight
	// Escrow backs and settles payouts.
	Escrow *escrow.Adapter
	// Executor wraps settlement submissions with bounded retries.
	Executor *utils.Executor
	// DelayThreshold is the default arrival delay that triggers a payout.
	DelayThreshold time.Duration
	// GraceWindow is how long past the scheduled arrival the monitor keeps
	// waiting for an actual arrival before evaluating on the reported delay
	// alone.
	GraceWindow time.Duration
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the monitor's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *MonitorConfig) CheckAndSetDefaults() error {
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Quotes == nil {
		return trace.BadParameter("missing parameter Quotes")
	}
	if c.Flights == nil {
		return trace.BadParameter("missing parameter Flights")
	}
	if c.Escrow == nil {
		return trace.BadParameter("missing parameter Escrow")
	}
	if c.Executor == nil {
		executor, err := utils.NewExecutor(utils.ExecutorConfig{
			MaxAttempts:   defaults.SettlementMaxAttempts,
			InitialDelay:  defaults.ExecutorInitialDelay,
			BackoffFactor: defaults.ExecutorBackoffFactor,
		})
		if err != nil {
			return trace.Wrap(err)
		}
		c.Executor = executor
	}
	if c.DelayThreshold == 0 {
		c.DelayThreshold = defaults.DefaultDelayThreshold
	}
	if c.GraceWindow == 0 {
		c.GraceWindow = defaults.ArrivalGraceWindow
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "policy-monitor")
	return nil
}

// NewMonitor returns a lifecycle Monitor.
func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Monitor{cfg: cfg}, nil
}

// Monitor owns the policy state machine: purchase binding, trigger
// detection and settlement.
type Monitor struct {
	cfg MonitorConfig
}

// PurchaseRequest binds a pending quote to a new policy.
type PurchaseRequest struct {
	// QuoteID is the quote being accepted.
	QuoteID string
	Owner   Owner
	// Beneficiary is the chain address paid on settlement.
	Beneficiary string
	// DelayThresholdMinutes overrides the default payout threshold.
	DelayThresholdMinutes int
	// ExpiresAt overrides the default monitoring window.
	ExpiresAt time.Time
}

// Check validates the request.
func (r *PurchaseRequest) Check() error {
	if r.QuoteID == "" {
		return trace.BadParameter("missing parameter QuoteID")
	}
	if err := r.Owner.Check(); err != nil {
		return trace.Wrap(err)
	}
	if r.Beneficiary == "" {
		return trace.BadParameter("missing parameter Beneficiary")
	}
	return nil
}

// PurchasePolicy accepts a quote, inserts the policy atomically with the
// quote's status transition, opens the backing escrow and activates
// monitoring. An expired or already-bound quote fails the purchase and
// leaves the quote unchanged.
func (m *Monitor) PurchasePolicy(ctx context.Context, req PurchaseRequest) (*Policy, error) {
	if err := req.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	now := m.cfg.Clock.Now().UTC()

	q, err := m.cfg.Quotes.GetQuote(ctx, req.QuoteID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := q.CheckAcceptable(now); err != nil {
		return nil, trace.Wrap(err)
	}

	threshold := req.DelayThresholdMinutes
	if threshold == 0 {
		threshold = int(m.cfg.DelayThreshold / time.Minute)
	}
	expiresAt := req.ExpiresAt
	if expiresAt.IsZero() {
		expiresAt = q.FlightDate.Add(DefaultMonitoringWindow)
	}

	p := &Policy{
		ID:                    uuid.NewString(),
		PolicyNumber:          policyNumber(),
		Owner:                 req.Owner,
		FlightNumber:          q.FlightNumber,
		FlightDate:            q.FlightDate,
		QuoteID:               q.ID,
		Coverage:              q.Coverage,
		CoverageAmount:        q.CoverageAmount,
		Premium:               q.Premium,
		DelayThresholdMinutes: threshold,
		Beneficiary:           req.Beneficiary,
		Status:                StatusPending,
		ExpiresAt:             expiresAt.UTC(),
		CreatedAt:             now,
	}
	if err := p.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := m.cfg.Store.BindQuote(ctx, q, p); err != nil {
		return nil, trace.Wrap(err)
	}
	m.append(ctx, p.ID, EventPolicyCreated, map[string]string{
		"quote_id":      q.ID,
		"policy_number": p.PolicyNumber,
	}, actorFor(req.Owner))

	escrowID := uuid.NewString()
	_, err = m.cfg.Escrow.CreateEscrow(ctx, escrow.EscrowParams{
		InternalID: escrowID,
		Amount:     p.CoverageAmount,
		Expiry:     p.ExpiresAt,
		Recipient:  req.Beneficiary,
		Purpose:    escrow.PurposeDeposit,
	})
	if err != nil {
		// the policy stays PENDING; the purchase can be retried once the
		// chain recovers
		return nil, trace.Wrap(err)
	}
	p.EscrowID = escrowID

	if err := p.CheckTransition(StatusActive); err != nil {
		return nil, trace.Wrap(err)
	}
	p.Status = StatusActive
	if err := m.cfg.Store.UpdatePolicy(ctx, p); err != nil {
		return nil, trace.Wrap(err)
	}
	m.append(ctx, p.ID, EventPolicyActivated, map[string]string{"escrow_id": escrowID}, systemActor)
	m.append(ctx, p.ID, EventMonitoringActive, nil, systemActor)

	m.cfg.Log.InfoContext(ctx, "Policy purchased.",
		"policy", p.ID,
		"quote", q.ID,
		"coverage", p.Coverage,
		"escrow", escrowID,
	)
	return p, nil
}

// CancelPolicy cancels a non-terminal policy before its monitoring window
// closes.
func (m *Monitor) CancelPolicy(ctx context.Context, policyID, triggeredBy string) error {
	now := m.cfg.Clock.Now().UTC()
	p, err := m.cfg.Store.GetPolicy(ctx, policyID)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := p.CheckTransition(StatusCancelled); err != nil {
		return trace.Wrap(err)
	}
	if now.After(p.ExpiresAt) {
		return trace.CompareFailed("policy %v monitoring window closed at %v", p.ID, p.ExpiresAt.Format(time.RFC3339))
	}
	p.Status = StatusCancelled
	if err := m.cfg.Store.UpdatePolicy(ctx, p); err != nil {
		return trace.Wrap(err)
	}
	m.append(ctx, p.ID, EventPolicyCancelled, nil, triggeredBy)
	return nil
}

// CheckPolicies sweeps every ACTIVE policy once: expiry, trigger evaluation
// and settlement. Driven by the scheduler. One failing policy does not stop
// the sweep.
func (m *Monitor) CheckPolicies(ctx context.Context) error {
	active, err := m.cfg.Store.ListPoliciesByStatus(ctx, StatusActive)
	if err != nil {
		return trace.Wrap(err)
	}
	for _, p := range active {
		if err := ctx.Err(); err != nil {
			return trace.Wrap(err)
		}
		if err := m.checkPolicy(ctx, p); err != nil {
			m.cfg.Log.WarnContext(ctx, "Policy check failed.", "policy", p.ID, "error", err)
		}
	}
	return nil
}

func (m *Monitor) checkPolicy(ctx context.Context, p *Policy) error {
	now := m.cfg.Clock.Now().UTC()

	if now.After(p.ExpiresAt) {
		if err := p.CheckTransition(StatusExpired); err != nil {
			return trace.Wrap(err)
		}
		p.Status = StatusExpired
		if err := m.cfg.Store.UpdatePolicy(ctx, p); err != nil {
			return trace.Wrap(err)
		}
		m.append(ctx, p.ID, EventPolicyExpired, nil, systemActor)
		return nil
	}

	res, err := m.cfg.Flights.GetFlightStatus(ctx, sources.FlightQuery{
		FlightNumber: p.FlightNumber,
		Date:         p.FlightDate,
	})
	if err != nil {
		// no data this round; the next sweep re-checks
		if trace.IsNotFound(err) {
			return nil
		}
		return trace.Wrap(err)
	}

	met, details := m.triggerMet(p, res.Flight, now)
	if !met {
		return nil
	}
	return trace.Wrap(m.settle(ctx, p, details))
}

// triggerMet evaluates the parametric trigger for the policy's coverage.
func (m *Monitor) triggerMet(p *Policy, f *canonical.Flight, now time.Time) (bool, map[string]string) {
	switch p.Coverage {
	case quote.CoverageFlightCancellation, quote.CoverageWeatherDisruption:
		if f.Status == canonical.FlightStatusCancelled || f.Status == canonical.FlightStatusDiverted {
			return true, map[string]string{"status": string(f.Status)}
		}
		return false, nil
	case quote.CoverageFlightDelay:
		if f.ArrivalDelayMinutes == nil {
			return false, nil
		}
		delay := *f.ArrivalDelayMinutes
		if delay < p.DelayThresholdMinutes {
			return false, nil
		}
		// the delay is authoritative once the flight has arrived, or once
		// the scheduled arrival plus the grace window has passed
		arrived := f.ActualArrival != nil
		gracePassed := f.ScheduledArrival != nil && now.After(f.ScheduledArrival.Add(m.cfg.GraceWindow))
		if !arrived && !gracePassed {
			return false, nil
		}
		return true, map[string]string{
			"arrival_delay_minutes": strconv.Itoa(delay),
			"threshold_minutes":     strconv.Itoa(p.DelayThresholdMinutes),
		}
	}
	return false, nil
}

// settle releases the escrow to the beneficiary with bounded retries. On
// exhaustion the policy moves to FAILED; a later manual payout is an
// operational action, not a monitor retry.
func (m *Monitor) settle(ctx context.Context, p *Policy, details map[string]string) error {
	m.append(ctx, p.ID, EventClaimConditionMet, details, systemActor)
	m.append(ctx, p.ID, EventPayoutProcessing, map[string]string{"escrow_id": p.EscrowID}, systemActor)

	var result *escrow.TransactionResult
	err := m.cfg.Executor.Do(ctx, func(ctx context.Context) error {
		var releaseErr error
		result, releaseErr = m.cfg.Escrow.ReleaseEscrow(ctx, p.EscrowID)
		if releaseErr != nil && trace.IsCompareFailed(releaseErr) {
			// state violations do not heal with retries
			return utils.PermanentRetryError(releaseErr)
		}
		return trace.Wrap(releaseErr)
	})
	if err != nil {
		settlementsCounter.WithLabelValues("failed").Inc()
		if transitionErr := p.CheckTransition(StatusFailed); transitionErr != nil {
			return trace.NewAggregate(err, transitionErr)
		}
		p.Status = StatusFailed
		if updateErr := m.cfg.Store.UpdatePolicy(ctx, p); updateErr != nil {
			return trace.NewAggregate(err, updateErr)
		}
		m.append(ctx, p.ID, EventPayoutFailed, map[string]string{
			"escrow_id": p.EscrowID,
			"error":     payoutFailureMessage(err),
		}, systemActor)
		return trace.Wrap(err)
	}

	if err := p.CheckTransition(StatusClaimed); err != nil {
		return trace.Wrap(err)
	}
	p.Status = StatusClaimed
	if err := m.cfg.Store.UpdatePolicy(ctx, p); err != nil {
		return trace.Wrap(err)
	}
	m.append(ctx, p.ID, EventPayoutCompleted, map[string]string{
		"escrow_id": p.EscrowID,
		"tx_hash":   result.Hash,
	}, systemActor)
	settlementsCounter.WithLabelValues("ok").Inc()

	m.cfg.Log.InfoContext(ctx, "Policy settled.",
		"policy", p.ID,
		"escrow", p.EscrowID,
		"hash", result.Hash,
	)
	return nil
}

// append adds an event, logging rather than failing the caller when the
// write goes wrong: the state transition already committed.
func (m *Monitor) append(ctx context.Context, policyID string, eventType EventType, data map[string]string, actor string) {
	err := m.cfg.Store.AppendEvent(ctx, &Event{
		PolicyID:    policyID,
		Type:        eventType,
		Data:        data,
		TriggeredBy: actor,
		CreatedAt:   m.cfg.Clock.Now().UTC(),
	})
	if err != nil {
		m.cfg.Log.ErrorContext(ctx, "Failed to append policy event.",
			"policy", policyID,
			"event", eventType,
			"error", err,
		)
	}
}

func actorFor(o Owner) string {
	if o.UserID != "" {
		return o.UserID
	}
	return o.AnonymousSessionID
}

// payoutFailureMessage keeps the stable failure identifier in front of the
// underlying chain error.
func payoutFailureMessage(err error) string {
	return "PAYOUT_FAILED: " + strings.TrimSpace(err.Error())
}

func policyNumber() string {
	return "POL-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:10])
}
