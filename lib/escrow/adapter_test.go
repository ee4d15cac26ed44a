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

package escrow

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// fakeChain is an in-memory ChainClient. Submitted transactions get a
// 64-hex-char signature and, deliberately, no top-level hash.
type fakeChain struct {
	mu      sync.Mutex
	nonce   int64
	entries []ProcessedTransaction
	submits int
	// failSubmits makes the next N submissions fail.
	failSubmits int
}

func (c *fakeChain) GetAccount(ctx context.Context, address string) (*Account, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &Account{Address: address, Balance: 1_000_000, Nonce: c.nonce}, nil
}

func (c *fakeChain) SignAndPostTransactionFromParams(ctx context.Context, params TxParams) (*ProcessedTransaction, error) {
	raw, err := EncodeParams(params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return c.submit(SignedTransaction{Params: raw, SignerKey: "addr-underwriter"})
}

func (c *fakeChain) PostTransaction(ctx context.Context, tx SignedTransaction) (*ProcessedTransaction, error) {
	return c.submit(tx)
}

func (c *fakeChain) submit(tx SignedTransaction) (*ProcessedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submits++
	if c.failSubmits > 0 {
		c.failSubmits--
		return nil, trace.ConnectionProblem(nil, "node rejected the transaction")
	}
	c.nonce++
	out := ProcessedTransaction{
		Signature: fmt.Sprintf("%064x", c.nonce),
		Signer:    tx.SignerKey,
		Nonce:     c.nonce,
		Timestamp: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC).Unix() + c.nonce,
		Status:    TxStatusConfirmed,
		Params:    tx.Params,
	}
	c.entries = append(c.entries, out)
	return &out, nil
}

func (c *fakeChain) GetTransactionsBySigner(ctx context.Context, address string) ([]ProcessedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []ProcessedTransaction
	for _, e := range c.entries {
		if e.Signer == address {
			out = append(out, e)
		}
	}
	return out, nil
}

func (c *fakeChain) GetTransactionByHash(ctx context.Context, hash string) (*ProcessedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// the node indexes by signature, not by the adapter's 0x form
	for _, e := range c.entries {
		if e.Signature == hash {
			out := e
			return &out, nil
		}
	}
	return nil, trace.NotFound("transaction %v not found", hash)
}

func (c *fakeChain) GetTransactionsByBlock(ctx context.Context, block int64) ([]ProcessedTransaction, error) {
	return nil, trace.NotFound("block %v not found", block)
}

func (c *fakeChain) SetSignerKey(key ed25519.PrivateKey) error { return nil }

func (c *fakeChain) submitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.submits
}

// memEscrowStore is an in-memory Store.
type memEscrowStore struct {
	mu      sync.Mutex
	escrows map[string]*Escrow
}

func newMemEscrowStore() *memEscrowStore {
	return &memEscrowStore{escrows: make(map[string]*Escrow)}
}

func (s *memEscrowStore) CreateEscrow(ctx context.Context, e *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.InternalID]; ok {
		return trace.AlreadyExists("escrow %v already exists", e.InternalID)
	}
	out := *e
	s.escrows[e.InternalID] = &out
	return nil
}

func (s *memEscrowStore) GetEscrow(ctx context.Context, internalID string) (*Escrow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.escrows[internalID]
	if !ok {
		return nil, trace.NotFound("escrow %v not found", internalID)
	}
	out := *e
	return &out, nil
}

func (s *memEscrowStore) UpdateEscrow(ctx context.Context, e *Escrow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.escrows[e.InternalID]; !ok {
		return trace.NotFound("escrow %v not found", e.InternalID)
	}
	out := *e
	s.escrows[e.InternalID] = &out
	return nil
}

func newTestAdapter(t *testing.T) (*Adapter, *fakeChain, *memEscrowStore) {
	t.Helper()
	chain := &fakeChain{}
	store := newMemEscrowStore()
	adapter, err := NewAdapter(AdapterConfig{
		Chain: chain,
		Store: store,
		Clock: clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return adapter, chain, store
}

func testParams() EscrowParams {
	return EscrowParams{
		Amount:    50_000,
		Expiry:    time.Date(2025, 7, 2, 12, 0, 0, 0, time.UTC),
		Recipient: "addr-bob",
		Purpose:   PurposeDeposit,
	}
}

func TestNormalizeHash(t *testing.T) {
	tests := []struct {
		desc string
		tx   ProcessedTransaction
		want string
	}{
		{
			desc: "explicit hash passes through",
			tx:   ProcessedTransaction{Hash: "0xabc", Signature: "ff"},
			want: "0xabc",
		},
		{
			desc: "signature is preferred",
			tx:   ProcessedTransaction{Signature: strings.Repeat("ab", 32)},
			want: "0x" + strings.Repeat("ab", 32),
		},
		{
			desc: "nonce and timestamp fallback",
			tx:   ProcessedTransaction{Nonce: 7, Timestamp: 1751371200},
			want: "0x" + "372d31373531333731323030", // hex("7-1751371200")
		},
		{
			desc: "nothing to synthesise from",
			tx:   ProcessedTransaction{},
			want: HashUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.desc, func(t *testing.T) {
			require.Equal(t, tt.want, NormalizeHash(&tt.tx))
			// deterministic: same inputs, same hash
			require.Equal(t, NormalizeHash(&tt.tx), NormalizeHash(&tt.tx))
		})
	}
}

// A chain response with no hash and a 64-hex signature S yields
// hash 0x<S>, and the status lookup on that hash resolves.
func TestHashSynthesisRoundTrip(t *testing.T) {
	ctx := context.Background()
	adapter, _, _ := newTestAdapter(t)

	result, err := adapter.CreateEscrow(ctx, testParams())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.Hash, "0x"))
	require.Len(t, result.Hash, 2+64)
	require.Equal(t, "0x"+result.Raw.Signature, result.Hash)

	status, err := adapter.GetTransactionStatus(ctx, result.Hash)
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, status)
}

func TestEscrowLifecycle(t *testing.T) {
	ctx := context.Background()
	adapter, chain, store := newTestAdapter(t)

	params := testParams()
	params.InternalID = "esc-1"
	_, err := adapter.CreateEscrow(ctx, params)
	require.NoError(t, err)

	record, err := store.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.Equal(t, int64(50_000), record.Amount)

	_, err = adapter.FulfillEscrow(ctx, "esc-1")
	require.NoError(t, err)
	record, err = store.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, record.Status)

	_, err = adapter.ReleaseEscrow(ctx, "esc-1")
	require.NoError(t, err)
	record, err = store.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	require.Equal(t, StatusReleased, record.Status)

	// released is absorbing: no further transitions, and the state check
	// fires before anything reaches the chain
	before := chain.submitCount()
	_, err = adapter.FulfillEscrow(ctx, "esc-1")
	require.True(t, trace.IsCompareFailed(err))
	_, err = adapter.ReleaseEscrow(ctx, "esc-1")
	require.True(t, trace.IsCompareFailed(err))
	require.Equal(t, before, chain.submitCount())
}

func TestFulfillRequiresPending(t *testing.T) {
	ctx := context.Background()
	adapter, _, store := newTestAdapter(t)

	params := testParams()
	params.InternalID = "esc-1"
	_, err := adapter.CreateEscrow(ctx, params)
	require.NoError(t, err)
	_, err = adapter.FulfillEscrow(ctx, "esc-1")
	require.NoError(t, err)

	// a second fulfil must fail, the escrow is no longer pending
	_, err = adapter.FulfillEscrow(ctx, "esc-1")
	require.True(t, trace.IsCompareFailed(err))

	record, err := store.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	require.Equal(t, StatusFulfilled, record.Status)
}

func TestChainFailureLeavesEscrowUnchanged(t *testing.T) {
	ctx := context.Background()
	adapter, chain, store := newTestAdapter(t)

	params := testParams()
	params.InternalID = "esc-1"
	_, err := adapter.CreateEscrow(ctx, params)
	require.NoError(t, err)

	chain.failSubmits = 1
	_, err = adapter.ReleaseEscrow(ctx, "esc-1")
	require.True(t, trace.IsConnectionProblem(err))

	record, err := store.GetEscrow(ctx, "esc-1")
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
}

func TestPrepareAndSubmitSigned(t *testing.T) {
	ctx := context.Background()
	adapter, _, store := newTestAdapter(t)

	params := testParams()
	params.InternalID = "esc-wallet"
	unsigned, err := adapter.PrepareCreateEscrow(ctx, params, "addr-wallet")
	require.NoError(t, err)
	require.Empty(t, unsigned.Signature)
	require.Equal(t, "addr-wallet", unsigned.SignerKey)
	require.Equal(t, int64(1), unsigned.Nonce)

	// nothing persisted until the signed transaction lands
	_, err = store.GetEscrow(ctx, "esc-wallet")
	require.True(t, trace.IsNotFound(err))

	signed := *unsigned
	signed.Signature = strings.Repeat("cd", 32)
	result, err := adapter.SubmitSignedTransaction(ctx, signed)
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(result.Hash, "0x"))

	record, err := store.GetEscrow(ctx, "esc-wallet")
	require.NoError(t, err)
	require.Equal(t, StatusPending, record.Status)
	require.Equal(t, int64(50_000), record.Amount)
}

func TestGetTransactionHistoryPagination(t *testing.T) {
	ctx := context.Background()
	adapter, _, _ := newTestAdapter(t)

	for i := range 5 {
		params := testParams()
		params.InternalID = fmt.Sprintf("esc-%d", i)
		_, err := adapter.CreateEscrow(ctx, params)
		require.NoError(t, err)
	}

	page, err := adapter.GetTransactionHistory(ctx, "addr-underwriter", 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	// newest first
	require.Equal(t, "esc-4", page[0].Metadata.EscrowID)
	require.Equal(t, TxTypeEscrowCreate, page[0].Type)

	page, err = adapter.GetTransactionHistory(ctx, "addr-underwriter", 2, 3)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.Equal(t, "esc-1", page[0].Metadata.EscrowID)
}
