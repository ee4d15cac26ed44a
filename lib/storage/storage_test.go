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
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/e3o8o/triggerr-sub002/lib/escrow"
	"github.com/e3o8o/triggerr-sub002/lib/policy"
	"github.com/e3o8o/triggerr-sub002/lib/quote"
	"github.com/e3o8o/triggerr-sub002/lib/scheduler"
)

var storeNow = time.Date(2025, 7, 1, 8, 0, 0, 0, time.UTC)

// coreStore is everything both implementations provide.
type coreStore interface {
	quote.Store
	policy.Store
	escrow.Store
	WalletStore
	scheduler.Store
	Close() error
}

func newSQLite(t *testing.T) *SQLite {
	t.Helper()
	s, err := NewSQLite(SQLiteConfig{
		Path:  filepath.Join(t.TempDir(), "triggerr.db"),
		Clock: clockwork.NewFakeClockAt(storeNow),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

// forEachStore runs the test against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, store coreStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, NewMemory())
	})
	t.Run("sqlite", func(t *testing.T) {
		fn(t, newSQLite(t))
	})
}

func testQuote(number string) *quote.Quote {
	return &quote.Quote{
		ID:             uuid.NewString(),
		QuoteNumber:    number,
		ProviderRef:    "triggerr-direct",
		FlightNumber:   "BT318",
		FlightDate:     storeNow.Add(2 * time.Hour),
		Coverage:       quote.CoverageFlightDelay,
		CoverageAmount: 50_000,
		Premium:        1_250,
		Risk:           quote.RiskSnapshot{FlightRisk: 1.1, WeatherRisk: 1.0, DataConfidenceRisk: 1.0, Combined: 1.1, QualityScore: 0.9},
		Status:         quote.QuoteStatusPending,
		CreatedAt:      storeNow,
		ValidUntil:     storeNow.Add(15 * time.Minute),
	}
}

func testPolicy(q *quote.Quote, number string) *policy.Policy {
	return &policy.Policy{
		ID:                    uuid.NewString(),
		PolicyNumber:          number,
		Owner:                 policy.Owner{UserID: "user-1"},
		FlightNumber:          q.FlightNumber,
		FlightDate:            q.FlightDate,
		QuoteID:               q.ID,
		Coverage:              q.Coverage,
		CoverageAmount:        q.CoverageAmount,
		Premium:               q.Premium,
		DelayThresholdMinutes: 60,
		Beneficiary:           "addr-bob",
		Status:                policy.StatusPending,
		ExpiresAt:             q.FlightDate.Add(48 * time.Hour),
		CreatedAt:             storeNow,
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-AAAA000001")
		require.NoError(t, store.CreateQuote(ctx, q))

		got, err := store.GetQuote(ctx, q.ID)
		require.NoError(t, err)
		require.Equal(t, q.QuoteNumber, got.QuoteNumber)
		require.Equal(t, q.Premium, got.Premium)
		require.Equal(t, q.Risk, got.Risk)
		require.True(t, q.ValidUntil.Equal(got.ValidUntil))

		_, err = store.GetQuote(ctx, "missing")
		require.True(t, trace.IsNotFound(err))
	})
}

func TestQuoteNumberUnique(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		require.NoError(t, store.CreateQuote(ctx, testQuote("QT-DUP")))
		err := store.CreateQuote(ctx, testQuote("QT-DUP"))
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)
	})
}

func TestExpirePendingQuotes(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		due := testQuote("QT-DUE")
		fresh := testQuote("QT-FRESH")
		fresh.ValidUntil = storeNow.Add(time.Hour)
		require.NoError(t, store.CreateQuote(ctx, due))
		require.NoError(t, store.CreateQuote(ctx, fresh))

		n, err := store.ExpirePendingQuotes(ctx, storeNow.Add(20*time.Minute))
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := store.GetQuote(ctx, due.ID)
		require.NoError(t, err)
		require.Equal(t, quote.QuoteStatusExpired, got.Status)
		got, err = store.GetQuote(ctx, fresh.ID)
		require.NoError(t, err)
		require.Equal(t, quote.QuoteStatusPending, got.Status)
	})
}

// A quote becomes ACCEPTED if and only if its policy insert
// lands, and at most one policy ever binds it.
func TestBindQuote(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-BIND")
		require.NoError(t, store.CreateQuote(ctx, q))

		p := testPolicy(q, "POL-0001")
		require.NoError(t, store.BindQuote(ctx, q, p))

		got, err := store.GetQuote(ctx, q.ID)
		require.NoError(t, err)
		require.Equal(t, quote.QuoteStatusAccepted, got.Status)

		stored, err := store.GetPolicy(ctx, p.ID)
		require.NoError(t, err)
		require.Equal(t, q.ID, stored.QuoteID)
		require.Equal(t, policy.Owner{UserID: "user-1"}, stored.Owner)

		// the quote is single-use
		err = store.BindQuote(ctx, q, testPolicy(q, "POL-0002"))
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)

		_, err = store.GetPolicy(ctx, "missing")
		require.True(t, trace.IsNotFound(err))
	})
}

func TestBindQuoteRequiresPending(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-EXPIRED")
		q.Status = quote.QuoteStatusExpired
		require.NoError(t, store.CreateQuote(ctx, q))

		err := store.BindQuote(ctx, q, testPolicy(q, "POL-0001"))
		require.True(t, trace.IsCompareFailed(err), "got %v", err)

		err = store.BindQuote(ctx, testQuote("QT-GHOST"), testPolicy(testQuote("QT-GHOST2"), "POL-0002"))
		require.Error(t, err)
	})
}

func TestPolicyOwnerExclusivity(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-OWNER")
		require.NoError(t, store.CreateQuote(ctx, q))

		p := testPolicy(q, "POL-0001")
		p.Owner = policy.Owner{UserID: "user-1", AnonymousSessionID: "sess-1"}
		err := store.BindQuote(ctx, q, p)
		require.True(t, trace.IsBadParameter(err), "got %v", err)

		p.Owner = policy.Owner{}
		err = store.BindQuote(ctx, q, p)
		require.True(t, trace.IsBadParameter(err), "got %v", err)

		// an anonymous session owner is fine
		p.Owner = policy.Owner{AnonymousSessionID: "sess-1"}
		require.NoError(t, store.BindQuote(ctx, q, p))
	})
}

func TestPolicyUpdateAndList(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-LIST")
		require.NoError(t, store.CreateQuote(ctx, q))
		p := testPolicy(q, "POL-0001")
		require.NoError(t, store.BindQuote(ctx, q, p))

		p.Status = policy.StatusActive
		p.EscrowID = "esc-1"
		require.NoError(t, store.UpdatePolicy(ctx, p))

		active, err := store.ListPoliciesByStatus(ctx, policy.StatusActive)
		require.NoError(t, err)
		require.Len(t, active, 1)
		require.Equal(t, "esc-1", active[0].EscrowID)

		pending, err := store.ListPoliciesByStatus(ctx, policy.StatusPending)
		require.NoError(t, err)
		require.Empty(t, pending)

		p.ID = "missing"
		require.True(t, trace.IsNotFound(store.UpdatePolicy(ctx, p)))
	})
}

// The event log is append-only with dense 1-based sequence
// numbers in append order.
func TestEventLogAppendOnly(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		q := testQuote("QT-EVENTS")
		require.NoError(t, store.CreateQuote(ctx, q))
		p := testPolicy(q, "POL-0001")
		require.NoError(t, store.BindQuote(ctx, q, p))

		types := []policy.EventType{
			policy.EventPolicyCreated,
			policy.EventPolicyActivated,
			policy.EventMonitoringActive,
		}
		for _, eventType := range types {
			err := store.AppendEvent(ctx, &policy.Event{
				PolicyID:    p.ID,
				Type:        eventType,
				Data:        map[string]string{"k": string(eventType)},
				TriggeredBy: "system",
				CreatedAt:   storeNow,
			})
			require.NoError(t, err)
		}

		events, err := store.ListEvents(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, events, 3)
		for i, e := range events {
			require.Equal(t, int64(i+1), e.Seq)
			require.Equal(t, types[i], e.Type)
			require.Equal(t, string(types[i]), e.Data["k"])
		}

		err = store.AppendEvent(ctx, &policy.Event{PolicyID: "missing", Type: policy.EventPolicyCreated, TriggeredBy: "system", CreatedAt: storeNow})
		require.True(t, trace.IsNotFound(err))
	})
}

func testEscrow(internalID, chainID string) *escrow.Escrow {
	return &escrow.Escrow{
		InternalID:   internalID,
		BlockchainID: chainID,
		Amount:       50_000,
		ExpiresAt:    storeNow.Add(48 * time.Hour),
		Recipient:    "addr-bob",
		Purpose:      escrow.PurposeDeposit,
		Status:       escrow.StatusPending,
		TxHash:       "0xabc",
		CreatedAt:    storeNow,
	}
}

func TestEscrowUniqueness(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		require.NoError(t, store.CreateEscrow(ctx, testEscrow("esc-1", "bc-1")))

		err := store.CreateEscrow(ctx, testEscrow("esc-1", "bc-2"))
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)

		err = store.CreateEscrow(ctx, testEscrow("esc-2", "bc-1"))
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)

		// absent blockchain ids do not collide
		require.NoError(t, store.CreateEscrow(ctx, testEscrow("esc-3", "")))
		require.NoError(t, store.CreateEscrow(ctx, testEscrow("esc-4", "")))

		got, err := store.GetEscrow(ctx, "esc-1")
		require.NoError(t, err)
		require.Equal(t, "bc-1", got.BlockchainID)
		require.Equal(t, escrow.StatusPending, got.Status)

		got.Status = escrow.StatusReleased
		require.NoError(t, store.UpdateEscrow(ctx, got))
		got, err = store.GetEscrow(ctx, "esc-1")
		require.NoError(t, err)
		require.Equal(t, escrow.StatusReleased, got.Status)
	})
}

func TestWalletPerOwner(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		w := &Wallet{
			ID:                  uuid.NewString(),
			Owner:               policy.Owner{UserID: "user-1"},
			Address:             "addr-alice",
			PublicKey:           "aabb",
			EncryptedPrivateKey: "sealed",
			CreatedAt:           storeNow,
		}
		require.NoError(t, store.CreateWallet(ctx, w))

		// one wallet per owner
		dup := *w
		dup.ID = uuid.NewString()
		dup.Address = "addr-other"
		err := store.CreateWallet(ctx, &dup)
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)

		// addresses are unique across owners
		other := *w
		other.ID = uuid.NewString()
		other.Owner = policy.Owner{AnonymousSessionID: "sess-1"}
		err = store.CreateWallet(ctx, &other)
		require.True(t, trace.IsAlreadyExists(err), "got %v", err)

		other.Address = "addr-anon"
		require.NoError(t, store.CreateWallet(ctx, &other))

		got, err := store.GetWalletByOwner(ctx, policy.Owner{UserID: "user-1"})
		require.NoError(t, err)
		require.Equal(t, "addr-alice", got.Address)

		got, err = store.GetWalletByAddress(ctx, "addr-anon")
		require.NoError(t, err)
		require.Equal(t, "sess-1", got.Owner.AnonymousSessionID)

		_, err = store.GetWalletByOwner(ctx, policy.Owner{UserID: "user-9"})
		require.True(t, trace.IsNotFound(err))
	})
}

func TestTaskRecords(t *testing.T) {
	forEachStore(t, func(t *testing.T, store coreStore) {
		ctx := context.Background()
		task := &scheduler.TaskRecord{Name: "monitor-sweep", Interval: time.Minute, Enabled: true, UpdatedAt: storeNow}
		require.NoError(t, store.UpsertTask(ctx, task))
		task.Interval = 2 * time.Minute
		require.NoError(t, store.UpsertTask(ctx, task))

		for i := range 3 {
			err := store.RecordExecution(ctx, &scheduler.Execution{
				ID:         uuid.NewString(),
				TaskName:   "monitor-sweep",
				StartedAt:  storeNow.Add(time.Duration(i) * time.Minute),
				FinishedAt: storeNow.Add(time.Duration(i)*time.Minute + time.Second),
				Status:     scheduler.ExecutionSucceeded,
			})
			require.NoError(t, err)
		}
		err := store.RecordExecution(ctx, &scheduler.Execution{
			ID:         uuid.NewString(),
			TaskName:   "monitor-sweep",
			StartedAt:  storeNow.Add(10 * time.Minute),
			FinishedAt: storeNow.Add(10*time.Minute + time.Second),
			Status:     scheduler.ExecutionFailed,
			Error:      "store is down",
		})
		require.NoError(t, err)

		executions, err := store.ListExecutions(ctx, "monitor-sweep", 2)
		require.NoError(t, err)
		require.Len(t, executions, 2)
		// newest first
		require.Equal(t, scheduler.ExecutionFailed, executions[0].Status)
		require.Equal(t, "store is down", executions[0].Error)
	})
}

func TestSQLiteCache(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(storeNow)
	s, err := NewSQLite(SQLiteConfig{
		Path:  filepath.Join(t.TempDir(), "cache.db"),
		Clock: clock,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })

	type record struct {
		Flight string `json:"flight"`
		Delay  int    `json:"delay"`
	}
	require.NoError(t, s.Put(ctx, "flight:BT318:2025-07-01", record{Flight: "BT318", Delay: 15}, 5*time.Minute, "flight:BT318"))

	raw, err := s.Get(ctx, "flight:BT318:2025-07-01")
	require.NoError(t, err)
	var got record
	require.NoError(t, json.Unmarshal(raw.(json.RawMessage), &got))
	require.Equal(t, record{Flight: "BT318", Delay: 15}, got)

	// expiry is lazy on read
	clock.Advance(6 * time.Minute)
	_, err = s.Get(ctx, "flight:BT318:2025-07-01")
	require.True(t, trace.IsNotFound(err))

	// tag invalidation removes the whole group
	for i := range 3 {
		key := fmt.Sprintf("flight:BT318:day-%d", i)
		require.NoError(t, s.Put(ctx, key, record{Flight: "BT318"}, time.Hour, "flight:BT318"))
	}
	require.NoError(t, s.Put(ctx, "flight:LH99:day-0", record{Flight: "LH99"}, time.Hour, "flight:LH99"))

	removed, err := s.InvalidateByTag(ctx, "flight:BT318")
	require.NoError(t, err)
	require.Equal(t, 3, removed)

	_, err = s.Get(ctx, "flight:BT318:day-1")
	require.True(t, trace.IsNotFound(err))
	_, err = s.Get(ctx, "flight:LH99:day-0")
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "flight:LH99:day-0"))
	_, err = s.Get(ctx, "flight:LH99:day-0")
	require.True(t, trace.IsNotFound(err))
}
