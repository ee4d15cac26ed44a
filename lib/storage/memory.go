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

package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/trace"

	"github.com/e3o8o/triggerr-sub002/lib/escrow"
	"github.com/e3o8o/triggerr-sub002/lib/policy"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/scheduler"
)

// NewMemory returns an in-memory store implementing every store interface
// the core consumes.
func NewMemory() *Memory {
	return &Memory{
		quotes:          make(map[string]*quote.Quote),
		quoteNumbers:    make(map[string]struct{}),
		policies:        make(map[string]*policy.Policy),
		policyNumbers:   make(map[string]struct{}),
		policyByQuote:   make(map[string]string),
		events:          make(map[string][]policy.Event),
		escrows:         make(map[string]*escrow.Escrow),
		escrowByChainID: make(map[string]string),
		wallets:         make(map[string]*Wallet),
		walletByOwner:   make(map[string]string),
		walletByAddr:    make(map[string]string),
		tasks:           make(map[string]*scheduler.TaskRecord),
	}
}

// Memory holds everything under one mutex. Contention is not a concern at
// the write rates of a policy core; correctness of the cross-entity
// constraints is.
type Memory struct {
	mu sync.Mutex

	quotes       map[string]*quote.Quote
	quoteNumbers map[string]struct{}

	policies      map[string]*policy.Policy
	policyNumbers map[string]struct{}
	// policyByQuote enforces at most one policy per quote.
	policyByQuote map[string]string
	events        map[string][]policy.Event

	escrows map[string]*escrow.Escrow
	// escrowByChainID enforces blockchain id uniqueness when present.
	escrowByChainID map[string]string

	wallets       map[string]*Wallet
	walletByOwner map[string]string
	walletByAddr  map[string]string

	tasks      map[string]*scheduler.TaskRecord
	executions []scheduler.Execution
}

// Close implements the store lifecycle, a no-op for Memory.
func (m *Memory) Close() error { return nil }

// CreateQuote persists a new quote.
func (m *Memory) CreateQuote(ctx context.Context, q *quote.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.quotes[q.ID]; ok {
		return trace.AlreadyExists("quote %v already exists", q.ID)
	}
	if _, ok := m.quoteNumbers[q.QuoteNumber]; ok {
		return trace.AlreadyExists("quote number %v is already taken", q.QuoteNumber)
	}
	out := *q
	m.quotes[q.ID] = &out
	m.quoteNumbers[q.QuoteNumber] = struct{}{}
	return nil
}

// GetQuote fetches a quote by id.
func (m *Memory) GetQuote(ctx context.Context, id string) (*quote.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, trace.NotFound("quote %v not found", id)
	}
	out := *q
	return &out, nil
}

// ExpirePendingQuotes marks lapsed PENDING quotes EXPIRED.
func (m *Memory) ExpirePendingQuotes(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int
	for _, q := range m.quotes {
		if q.Status == quote.QuoteStatusPending && now.After(q.ValidUntil) {
			q.Status = quote.QuoteStatusExpired
			n++
		}
	}
	return n, nil
}

// BindQuote atomically marks the quote ACCEPTED and inserts the policy.
func (m *Memory) BindQuote(ctx context.Context, q *quote.Quote, p *policy.Policy) error {
	if err := p.Check(); err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.quotes[q.ID]
	if !ok {
		return trace.NotFound("quote %v not found", q.ID)
	}
	if boundTo, ok := m.policyByQuote[q.ID]; ok {
		return trace.AlreadyExists("quote %v is already bound to policy %v", q.ID, boundTo)
	}
	if stored.Status != quote.QuoteStatusPending {
		return trace.CompareFailed("quote %v is %v, not PENDING", q.ID, stored.Status)
	}
	if _, ok := m.policies[p.ID]; ok {
		return trace.AlreadyExists("policy %v already exists", p.ID)
	}
	if _, ok := m.policyNumbers[p.PolicyNumber]; ok {
		return trace.AlreadyExists("policy number %v is already taken", p.PolicyNumber)
	}
	stored.Status = quote.QuoteStatusAccepted
	out := *p
	m.policies[p.ID] = &out
	m.policyNumbers[p.PolicyNumber] = struct{}{}
	m.policyByQuote[q.ID] = p.ID
	return nil
}

// GetPolicy fetches a policy by id.
func (m *Memory) GetPolicy(ctx context.Context, id string) (*policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, trace.NotFound("policy %v not found", id)
	}
	out := *p
	return &out, nil
}

// UpdatePolicy replaces an existing policy record.
func (m *Memory) UpdatePolicy(ctx context.Context, p *policy.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[p.ID]; !ok {
		return trace.NotFound("policy %v not found", p.ID)
	}
	out := *p
	m.policies[p.ID] = &out
	return nil
}

// ListPoliciesByStatus returns the policies in one state, ordered by id for
// a stable sweep order.
func (m *Memory) ListPoliciesByStatus(ctx context.Context, status policy.PolicyStatus) ([]*policy.Policy, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*policy.Policy
	for _, p := range m.policies {
		if p.Status == status {
			clone := *p
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AppendEvent appends to the policy's event log, assigning Seq.
func (m *Memory) AppendEvent(ctx context.Context, event *policy.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[event.PolicyID]; !ok {
		return trace.NotFound("policy %v not found", event.PolicyID)
	}
	out := *event
	out.Seq = int64(len(m.events[event.PolicyID]) + 1)
	m.events[event.PolicyID] = append(m.events[event.PolicyID], out)
	event.Seq = out.Seq
	return nil
}

// ListEvents returns the policy's event log in append order.
func (m *Memory) ListEvents(ctx context.Context, policyID string) ([]policy.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]policy.Event(nil), m.events[policyID]...), nil
}

// CreateEscrow persists a new escrow record.
func (m *Memory) CreateEscrow(ctx context.Context, e *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[e.InternalID]; ok {
		return trace.AlreadyExists("escrow %v already exists", e.InternalID)
	}
	if e.BlockchainID != "" {
		if owner, ok := m.escrowByChainID[e.BlockchainID]; ok {
			return trace.AlreadyExists("blockchain id %v is already bound to escrow %v", e.BlockchainID, owner)
		}
	}
	out := *e
	m.escrows[e.InternalID] = &out
	if e.BlockchainID != "" {
		m.escrowByChainID[e.BlockchainID] = e.InternalID
	}
	return nil
}

// GetEscrow fetches an escrow by internal id.
func (m *Memory) GetEscrow(ctx context.Context, internalID string) (*escrow.Escrow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[internalID]
	if !ok {
		return nil, trace.NotFound("escrow %v not found", internalID)
	}
	out := *e
	return &out, nil
}

// UpdateEscrow replaces an existing escrow record.
func (m *Memory) UpdateEscrow(ctx context.Context, e *escrow.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	prev, ok := m.escrows[e.InternalID]
	if !ok {
		return trace.NotFound("escrow %v not found", e.InternalID)
	}
	if e.BlockchainID != "" && e.BlockchainID != prev.BlockchainID {
		if owner, ok := m.escrowByChainID[e.BlockchainID]; ok && owner != e.InternalID {
			return trace.AlreadyExists("blockchain id %v is already bound to escrow %v", e.BlockchainID, owner)
		}
	}
	if prev.BlockchainID != "" && prev.BlockchainID != e.BlockchainID {
		delete(m.escrowByChainID, prev.BlockchainID)
	}
	out := *e
	m.escrows[e.InternalID] = &out
	if e.BlockchainID != "" {
		m.escrowByChainID[e.BlockchainID] = e.InternalID
	}
	return nil
}

// CreateWallet persists a new wallet, one per owner.
func (m *Memory) CreateWallet(ctx context.Context, w *Wallet) error {
	if err := w.Check(); err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ownerKey(w.Owner)
	if _, ok := m.walletByOwner[key]; ok {
		return trace.AlreadyExists("owner already has a wallet")
	}
	if _, ok := m.walletByAddr[w.Address]; ok {
		return trace.AlreadyExists("address %v is already taken", w.Address)
	}
	out := *w
	m.wallets[w.ID] = &out
	m.walletByOwner[key] = w.ID
	m.walletByAddr[w.Address] = w.ID
	return nil
}

// GetWalletByOwner fetches the owner's wallet.
func (m *Memory) GetWalletByOwner(ctx context.Context, owner policy.Owner) (*Wallet, error) {
	if err := owner.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.walletByOwner[ownerKey(owner)]
	if !ok {
		return nil, trace.NotFound("owner has no wallet")
	}
	out := *m.wallets[id]
	return &out, nil
}

// GetWalletByAddress fetches a wallet by chain address.
func (m *Memory) GetWalletByAddress(ctx context.Context, address string) (*Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.walletByAddr[address]
	if !ok {
		return nil, trace.NotFound("no wallet with address %v", address)
	}
	out := *m.wallets[id]
	return &out, nil
}

// UpsertTask registers or refreshes a task record.
func (m *Memory) UpsertTask(ctx context.Context, task *scheduler.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := *task
	m.tasks[task.Name] = &out
	return nil
}

// RecordExecution appends one execution record.
func (m *Memory) RecordExecution(ctx context.Context, execution *scheduler.Execution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executions = append(m.executions, *execution)
	return nil
}

// ListExecutions returns the most recent executions of a task, newest first.
func (m *Memory) ListExecutions(ctx context.Context, taskName string, limit int) ([]scheduler.Execution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []scheduler.Execution
	for i := len(m.executions) - 1; i >= 0 && len(out) < limit; i-- {
		if m.executions[i].TaskName == taskName {
			out = append(out, m.executions[i])
		}
	}
	return out, nil
}
