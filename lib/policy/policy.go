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

// Package policy binds quotes to escrows on purchase and watches flight
// outcomes until a policy settles, expires or is cancelled.
package policy

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/quote"
)

// PolicyStatus is the policy lifecycle state.
type PolicyStatus string

const (
	StatusPending   PolicyStatus = "PENDING"
	StatusActive    PolicyStatus = "ACTIVE"
	StatusExpired   PolicyStatus = "EXPIRED"
	StatusClaimed   PolicyStatus = "CLAIMED"
	StatusCancelled PolicyStatus = "CANCELLED"
	StatusFailed    PolicyStatus = "FAILED"
)

// Terminal reports whether the status is absorbing.
func (s PolicyStatus) Terminal() bool {
	switch s {
	case StatusExpired, StatusClaimed, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// EventType enumerates the policy event log entries.
type EventType string

const (
	EventPolicyCreated     EventType = "POLICY_CREATED"
	EventPolicyActivated   EventType = "POLICY_ACTIVATED"
	EventMonitoringActive  EventType = "MONITORING_ACTIVE"
	EventClaimConditionMet EventType = "CLAIM_CONDITION_MET"
	EventPayoutProcessing  EventType = "PAYOUT_PROCESSING"
	EventPayoutCompleted   EventType = "PAYOUT_COMPLETED"
	EventPayoutFailed      EventType = "PAYOUT_FAILED"
	EventPolicyExpired     EventType = "POLICY_EXPIRED"
	EventPolicyCancelled   EventType = "POLICY_CANCELLED"
)

// Owner identifies who holds a policy: exactly one of an authenticated user
// or an anonymous session, never both.
type Owner struct {
	UserID             string `json:"user_id,omitempty"`
	AnonymousSessionID string `json:"anonymous_session_id,omitempty"`
}

// Check verifies owner exclusivity.
func (o Owner) Check() error {
	switch {
	case o.UserID == "" && o.AnonymousSessionID == "":
		return trace.BadParameter("policy owner is empty")
	case o.UserID != "" && o.AnonymousSessionID != "":
		return trace.BadParameter("policy owner must be a user or an anonymous session, not both")
	}
	return nil
}

// Policy is one purchased parametric insurance contract.
type Policy struct {
	// ID is the internal policy identifier.
	ID string `json:"id"`
	// PolicyNumber is the unique human-facing reference.
	PolicyNumber string `json:"policy_number"`
	Owner        Owner  `json:"owner"`

	FlightNumber string    `json:"flight_number"`
	FlightDate   time.Time `json:"flight_date"`

	// QuoteID links the accepted quote. At most one policy per quote.
	QuoteID  string             `json:"quote_id"`
	Coverage quote.CoverageType `json:"coverage"`
	// CoverageAmount and Premium are copied from the quote, in minor units.
	CoverageAmount int64 `json:"coverage_amount"`
	Premium        int64 `json:"premium"`

	// DelayThresholdMinutes is the arrival delay at which a FLIGHT_DELAY
	// policy pays out.
	DelayThresholdMinutes int `json:"delay_threshold_minutes"`

	// EscrowID is the internal id of the escrow backing the payout.
	EscrowID string `json:"escrow_id,omitempty"`
	// Beneficiary is the chain address paid on settlement.
	Beneficiary string `json:"beneficiary"`

	Status PolicyStatus `json:"status"`
	// ExpiresAt closes the monitoring window.
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Check verifies the policy invariants.
func (p *Policy) Check() error {
	if p.ID == "" {
		return trace.BadParameter("policy is missing an id")
	}
	if err := p.Owner.Check(); err != nil {
		return trace.Wrap(err)
	}
	if p.QuoteID == "" {
		return trace.BadParameter("policy %v is not linked to a quote", p.ID)
	}
	if p.Premium >= p.CoverageAmount {
		return trace.BadParameter("policy %v premium %v is not below coverage %v", p.ID, p.Premium, p.CoverageAmount)
	}
	if p.DelayThresholdMinutes <= 0 {
		return trace.BadParameter("policy %v has a non-positive delay threshold", p.ID)
	}
	return nil
}

// CheckTransition verifies a status change. Terminal states are absorbing.
func (p *Policy) CheckTransition(to PolicyStatus) error {
	if p.Status.Terminal() {
		return trace.CompareFailed("policy %v is %v, which is terminal", p.ID, p.Status)
	}
	switch to {
	case StatusActive:
		if p.Status != StatusPending {
			return trace.CompareFailed("policy %v is %v, only PENDING policies can activate", p.ID, p.Status)
		}
	case StatusClaimed, StatusExpired, StatusFailed:
		if p.Status != StatusActive {
			return trace.CompareFailed("policy %v is %v, not ACTIVE", p.ID, p.Status)
		}
	case StatusCancelled:
	default:
		return trace.BadParameter("unknown policy status %q", to)
	}
	return nil
}

// Event is one append-only policy log entry. Events are totally ordered per
// policy by Seq.
type Event struct {
	// PolicyID is the policy the event belongs to.
	PolicyID string `json:"policy_id"`
	// Seq is the 1-based position in the policy's log, assigned by the
	// store on append.
	Seq int64 `json:"seq"`

	Type EventType `json:"type"`
	// Data carries event-specific details.
	Data map[string]string `json:"data,omitempty"`
	// TriggeredBy names the actor: "system", a user id, or a session id.
	TriggeredBy string    `json:"triggered_by"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the persistence the lifecycle needs. Implemented by lib/storage.
type Store interface {
	// BindQuote atomically marks the quote ACCEPTED and inserts the policy.
	// Fails with AlreadyExists when the quote is already bound and with
	// CompareFailed when the quote is not PENDING anymore.
	BindQuote(ctx context.Context, q *quote.Quote, p *Policy) error
	// GetPolicy fetches a policy by id.
	GetPolicy(ctx context.Context, id string) (*Policy, error)
	// UpdatePolicy replaces an existing policy record.
	UpdatePolicy(ctx context.Context, p *Policy) error
	// ListPoliciesByStatus returns the policies in one state.
	ListPoliciesByStatus(ctx context.Context, status PolicyStatus) ([]*Policy, error)
	// AppendEvent appends to the policy's event log, assigning Seq.
	// Appends are serialised per policy.
	AppendEvent(ctx context.Context, event *Event) error
	// ListEvents returns the policy's event log in append order.
	ListEvents(ctx context.Context, policyID string) ([]Event, error)
}
