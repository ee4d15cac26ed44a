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
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// HashUnavailable marks a transaction whose hash could not be synthesised.
// The transaction is still surfaced; only its hash is missing.
const HashUnavailable = "hash-unavailable"

// NormalizeHash derives the durable transaction hash downstream systems key
// on. The chain frequently omits a top-level hash, so one is synthesised
// deterministically from the signature or, failing that, from nonce and
// timestamp.
func NormalizeHash(tx *ProcessedTransaction) string {
	if tx.Hash != "" {
		return tx.Hash
	}
	if tx.Signature != "" {
		return "0x" + tx.Signature
	}
	if tx.Nonce != 0 || tx.Timestamp != 0 {
		return "0x" + hex.EncodeToString(fmt.Appendf(nil, "%d-%d", tx.Nonce, tx.Timestamp))
	}
	return HashUnavailable
}

// EscrowParams is the generic, chain-agnostic escrow intent.
type EscrowParams struct {
	// InternalID is optional; the adapter generates one when empty.
	InternalID string
	// Amount is in chain units (cents).
	Amount int64
	// Expiry is when the escrow lapses unfulfilled.
	Expiry time.Time
	// Recipient is the chain address funds go to on release.
	Recipient string
	Purpose   EscrowPurpose
	// VerificationKey optionally gates fulfilment.
	VerificationKey string
}

// Check validates the intent.
func (p *EscrowParams) Check() error {
	if p.Amount <= 0 {
		return trace.BadParameter("escrow amount must be positive, got %v", p.Amount)
	}
	if p.Recipient == "" {
		return trace.BadParameter("missing parameter Recipient")
	}
	if p.Expiry.IsZero() {
		return trace.BadParameter("missing parameter Expiry")
	}
	return nil
}

// TransactionResult is the adapter's normalised view of one chain
// submission.
type TransactionResult struct {
	// Hash is the normalised transaction hash, possibly synthesised.
	Hash string `json:"hash"`
	// Status is the chain-reported state.
	Status TxStatus `json:"status"`
	// Raw is the chain's full response.
	Raw *ProcessedTransaction `json:"raw"`
}

// Store is the escrow persistence the adapter needs. Implemented by
// lib/storage.
type Store interface {
	// CreateEscrow persists a new escrow record.
	CreateEscrow(ctx context.Context, e *Escrow) error
	// GetEscrow fetches an escrow by internal id.
	GetEscrow(ctx context.Context, internalID string) (*Escrow, error)
	// UpdateEscrow replaces an existing escrow record.
	UpdateEscrow(ctx context.Context, e *Escrow) error
}

// AdapterConfig configures an escrow Adapter.
type AdapterConfig struct {
	// Chain is the chain node client.
	Chain ChainClient
	// Store persists escrow records.
	Store Store
	// DisableHashSynthesis turns the hash fallback off; the chain's own
	// hash field is then passed through untouched.
	DisableHashSynthesis bool
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the adapter's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *AdapterConfig) CheckAndSetDefaults() error {
	if c.Chain == nil {
		return trace.BadParameter("missing parameter Chain")
	}
	if c.Store == nil {
		return trace.BadParameter("missing parameter Store")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "escrow-adapter")
	return nil
}

// NewAdapter returns an escrow Adapter.
func NewAdapter(cfg AdapterConfig) (*Adapter, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Adapter{cfg: cfg}, nil
}

// Adapter exposes the chain-agnostic escrow API: generic intents in, signed
// chain transactions out, with hash normalisation on every response.
type Adapter struct {
	cfg AdapterConfig
}

func (a *Adapter) hash(tx *ProcessedTransaction) string {
	if a.cfg.DisableHashSynthesis {
		return tx.Hash
	}
	return NormalizeHash(tx)
}

// CreateEscrow builds, signs and submits the chain's create transaction and
// persists the escrow record.
func (a *Adapter) CreateEscrow(ctx context.Context, params EscrowParams) (*TransactionResult, error) {
	if err := params.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	internalID := params.InternalID
	if internalID == "" {
		internalID = uuid.NewString()
	}
	purpose := params.Purpose
	if purpose == "" {
		purpose = PurposeDeposit
	}

	tx, err := a.cfg.Chain.SignAndPostTransactionFromParams(ctx, TxParams{
		Kind: KindCreateEscrow,
		CreateEscrow: &CreateEscrowParams{
			EscrowID:        internalID,
			Amount:          params.Amount,
			ExpiresAt:       params.Expiry.Unix(),
			Recipient:       params.Recipient,
			VerificationKey: params.VerificationKey,
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := &TransactionResult{Hash: a.hash(tx), Status: tx.Status, Raw: tx}

	record := &Escrow{
		InternalID:   internalID,
		BlockchainID: internalID,
		Amount:       params.Amount,
		ExpiresAt:    params.Expiry.UTC(),
		Recipient:    params.Recipient,
		Purpose:      purpose,
		Status:       StatusPending,
		TxHash:       result.Hash,
		BlockNumber:  tx.BlockNumber,
		CreatedAt:    a.cfg.Clock.Now().UTC(),
	}
	if err := a.cfg.Store.CreateEscrow(ctx, record); err != nil {
		return nil, trace.Wrap(err)
	}
	a.cfg.Log.InfoContext(ctx, "Created escrow.",
		"escrow", internalID,
		"amount", params.Amount,
		"hash", result.Hash,
	)
	return result, nil
}

// FulfillEscrow submits the chain's fulfil transaction for a PENDING escrow.
func (a *Adapter) FulfillEscrow(ctx context.Context, internalID string) (*TransactionResult, error) {
	result, err := a.transition(ctx, internalID, StatusFulfilled, TxParams{
		Kind:          KindFulfillEscrow,
		FulfillEscrow: &EscrowRefParams{EscrowID: internalID},
	})
	return result, trace.Wrap(err)
}

// ReleaseEscrow submits the chain's release transaction, paying out the
// recipient.
func (a *Adapter) ReleaseEscrow(ctx context.Context, internalID string) (*TransactionResult, error) {
	result, err := a.transition(ctx, internalID, StatusReleased, TxParams{
		Kind:          KindReleaseEscrow,
		ReleaseEscrow: &EscrowRefParams{EscrowID: internalID},
	})
	return result, trace.Wrap(err)
}

// transition validates the state change first, then submits. A state
// violation leaves the escrow untouched and never reaches the chain.
func (a *Adapter) transition(ctx context.Context, internalID string, to EscrowStatus, params TxParams) (*TransactionResult, error) {
	record, err := a.cfg.Store.GetEscrow(ctx, internalID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := record.CheckTransition(to); err != nil {
		return nil, trace.Wrap(err)
	}

	tx, err := a.cfg.Chain.SignAndPostTransactionFromParams(ctx, params)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := &TransactionResult{Hash: a.hash(tx), Status: tx.Status, Raw: tx}

	record.Status = to
	if tx.BlockNumber != 0 {
		record.BlockNumber = tx.BlockNumber
	}
	if err := a.cfg.Store.UpdateEscrow(ctx, record); err != nil {
		return nil, trace.Wrap(err)
	}
	a.cfg.Log.InfoContext(ctx, "Escrow transitioned.",
		"escrow", internalID,
		"status", to,
		"hash", result.Hash,
	)
	return result, nil
}

// PrepareCreateEscrow builds the unsigned create transaction for an external
// signer (non-custodial wallet). The caller signs it and completes with
// SubmitSignedTransaction.
func (a *Adapter) PrepareCreateEscrow(ctx context.Context, params EscrowParams, signerAddress string) (*SignedTransaction, error) {
	if err := params.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if signerAddress == "" {
		return nil, trace.BadParameter("missing parameter signerAddress")
	}
	internalID := params.InternalID
	if internalID == "" {
		internalID = uuid.NewString()
	}

	account, err := a.cfg.Chain.GetAccount(ctx, signerAddress)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	rawParams, err := EncodeParams(TxParams{
		Kind: KindCreateEscrow,
		CreateEscrow: &CreateEscrowParams{
			EscrowID:        internalID,
			Amount:          params.Amount,
			ExpiresAt:       params.Expiry.Unix(),
			Recipient:       params.Recipient,
			VerificationKey: params.VerificationKey,
		},
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &SignedTransaction{
		Params:    rawParams,
		SignerKey: signerAddress,
		Nonce:     account.Nonce + 1,
		Timestamp: a.cfg.Clock.Now().Unix(),
	}, nil
}

// SubmitSignedTransaction completes a non-custodial flow. When the signed
// transaction creates an escrow, the escrow record is persisted too.
func (a *Adapter) SubmitSignedTransaction(ctx context.Context, signed SignedTransaction) (*TransactionResult, error) {
	tx, err := a.cfg.Chain.PostTransaction(ctx, signed)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := &TransactionResult{Hash: a.hash(tx), Status: tx.Status, Raw: tx}

	params, err := DecodeParams(signed.Params)
	if err == nil && params.Kind == KindCreateEscrow {
		record := &Escrow{
			InternalID:   params.CreateEscrow.EscrowID,
			BlockchainID: params.CreateEscrow.EscrowID,
			Amount:       params.CreateEscrow.Amount,
			ExpiresAt:    time.Unix(params.CreateEscrow.ExpiresAt, 0).UTC(),
			Recipient:    params.CreateEscrow.Recipient,
			Purpose:      PurposeDeposit,
			Status:       StatusPending,
			TxHash:       result.Hash,
			BlockNumber:  tx.BlockNumber,
			CreatedAt:    a.cfg.Clock.Now().UTC(),
		}
		if err := a.cfg.Store.CreateEscrow(ctx, record); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return result, nil
}

// GetAccountInfo returns balance and nonce for an address.
func (a *Adapter) GetAccountInfo(ctx context.Context, address string) (*Account, error) {
	account, err := a.cfg.Chain.GetAccount(ctx, address)
	return account, trace.Wrap(err)
}

// GetTransactionStatus resolves a transaction by its normalised hash. A
// synthesised hash is retried without the 0x prefix, which is how the node
// indexes signature-keyed transactions.
func (a *Adapter) GetTransactionStatus(ctx context.Context, hash string) (TxStatus, error) {
	tx, err := a.cfg.Chain.GetTransactionByHash(ctx, hash)
	if err != nil {
		if trace.IsNotFound(err) && strings.HasPrefix(hash, "0x") {
			tx, err = a.cfg.Chain.GetTransactionByHash(ctx, strings.TrimPrefix(hash, "0x"))
		}
		if err != nil {
			return "", trace.Wrap(err)
		}
	}
	return tx.Status, nil
}

// GetTransactionHistory returns the parsed, newest-first transaction history
// of an address. Pages are 1-based.
func (a *Adapter) GetTransactionHistory(ctx context.Context, address string, page, pageSize int) ([]ParsedTransaction, error) {
	entries, err := a.cfg.Chain.GetTransactionsBySigner(ctx, address)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	parsed, err := ParseHistory(entries, address)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := Paginate(parsed, page, pageSize)
	return out, trace.Wrap(err)
}
