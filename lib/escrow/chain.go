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
	"encoding/json"
	"time"

	"github.com/gravitational/trace"
)

// ParamKind tags the transaction parameter variant decoded from the chain's
// wire form.
type ParamKind string

const (
	KindTransfer      ParamKind = "Transfer"
	KindFaucet        ParamKind = "Faucet"
	KindCreateEscrow  ParamKind = "CreateEscrow"
	KindFulfillEscrow ParamKind = "FulfillEscrow"
	KindReleaseEscrow ParamKind = "ReleaseEscrow"
	KindUnknown       ParamKind = "Unknown"
)

// TransferParams moves units between two addresses.
type TransferParams struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Amount int64  `json:"amount"`
}

// FaucetParams credits the signer from the faucet. The signer is the
// receiver.
type FaucetParams struct {
	Amount int64 `json:"amount"`
}

// CreateEscrowParams opens a time-bounded escrow.
type CreateEscrowParams struct {
	EscrowID string `json:"escrow_id"`
	Amount   int64  `json:"amount"`
	// ExpiresAt is seconds since epoch.
	ExpiresAt int64 `json:"expires_at"`
	Recipient string `json:"recipient"`
	// VerificationKey optionally gates fulfilment.
	VerificationKey string `json:"verification_key,omitempty"`
}

// EscrowRefParams fulfils or releases an existing escrow.
type EscrowRefParams struct {
	EscrowID string `json:"escrow_id"`
}

// TxParams is the tagged parameter variant carried by a chain transaction.
// Exactly the field matching Kind is set.
type TxParams struct {
	Kind          ParamKind           `json:"kind"`
	Transfer      *TransferParams     `json:"transfer,omitempty"`
	Faucet        *FaucetParams       `json:"faucet,omitempty"`
	CreateEscrow  *CreateEscrowParams `json:"create_escrow,omitempty"`
	FulfillEscrow *EscrowRefParams    `json:"fulfill_escrow,omitempty"`
	ReleaseEscrow *EscrowRefParams    `json:"release_escrow,omitempty"`
}

// Check verifies the variant is well formed.
func (p *TxParams) Check() error {
	switch p.Kind {
	case KindTransfer:
		if p.Transfer == nil {
			return trace.BadParameter("Transfer params are missing")
		}
	case KindFaucet:
		if p.Faucet == nil {
			return trace.BadParameter("Faucet params are missing")
		}
	case KindCreateEscrow:
		if p.CreateEscrow == nil {
			return trace.BadParameter("CreateEscrow params are missing")
		}
	case KindFulfillEscrow:
		if p.FulfillEscrow == nil {
			return trace.BadParameter("FulfillEscrow params are missing")
		}
	case KindReleaseEscrow:
		if p.ReleaseEscrow == nil {
			return trace.BadParameter("ReleaseEscrow params are missing")
		}
	case KindUnknown:
	default:
		return trace.BadParameter("unknown param kind %q", p.Kind)
	}
	return nil
}

// Amount returns the units the variant moves, zero for unknown.
func (p *TxParams) Amount() int64 {
	switch p.Kind {
	case KindTransfer:
		return p.Transfer.Amount
	case KindFaucet:
		return p.Faucet.Amount
	case KindCreateEscrow:
		return p.CreateEscrow.Amount
	}
	return 0
}

// EscrowID returns the escrow the variant refers to, if any.
func (p *TxParams) EscrowID() string {
	switch p.Kind {
	case KindCreateEscrow:
		return p.CreateEscrow.EscrowID
	case KindFulfillEscrow:
		return p.FulfillEscrow.EscrowID
	case KindReleaseEscrow:
		return p.ReleaseEscrow.EscrowID
	}
	return ""
}

// wireParams is the chain's parameter envelope: a class discriminator plus
// the raw body.
type wireParams struct {
	Class string          `json:"class"`
	Body  json.RawMessage `json:"body"`
}

// DecodeParams decodes the chain's wire parameter envelope into the tagged
// variant. Unrecognised classes decode to KindUnknown rather than fail; the
// ledger may contain transaction types this build does not know.
func DecodeParams(raw json.RawMessage) (TxParams, error) {
	if len(raw) == 0 {
		return TxParams{Kind: KindUnknown}, nil
	}
	var wire wireParams
	if err := json.Unmarshal(raw, &wire); err != nil {
		return TxParams{}, trace.BadParameter("malformed transaction params: %v", err)
	}
	out := TxParams{Kind: ParamKind(wire.Class)}
	var err error
	switch out.Kind {
	case KindTransfer:
		out.Transfer = &TransferParams{}
		err = json.Unmarshal(wire.Body, out.Transfer)
	case KindFaucet:
		out.Faucet = &FaucetParams{}
		err = json.Unmarshal(wire.Body, out.Faucet)
	case KindCreateEscrow:
		out.CreateEscrow = &CreateEscrowParams{}
		err = json.Unmarshal(wire.Body, out.CreateEscrow)
	case KindFulfillEscrow:
		out.FulfillEscrow = &EscrowRefParams{}
		err = json.Unmarshal(wire.Body, out.FulfillEscrow)
	case KindReleaseEscrow:
		out.ReleaseEscrow = &EscrowRefParams{}
		err = json.Unmarshal(wire.Body, out.ReleaseEscrow)
	default:
		out.Kind = KindUnknown
	}
	if err != nil {
		return TxParams{}, trace.BadParameter("malformed %v params: %v", wire.Class, err)
	}
	return out, nil
}

// EncodeParams encodes the tagged variant into the chain's wire envelope.
func EncodeParams(p TxParams) (json.RawMessage, error) {
	if err := p.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	var body any
	switch p.Kind {
	case KindTransfer:
		body = p.Transfer
	case KindFaucet:
		body = p.Faucet
	case KindCreateEscrow:
		body = p.CreateEscrow
	case KindFulfillEscrow:
		body = p.FulfillEscrow
	case KindReleaseEscrow:
		body = p.ReleaseEscrow
	default:
		return nil, trace.BadParameter("cannot encode %v params", p.Kind)
	}
	rawBody, err := json.Marshal(body)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	out, err := json.Marshal(wireParams{Class: string(p.Kind), Body: rawBody})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return out, nil
}

// TxStatus is the chain-reported transaction state.
type TxStatus string

const (
	TxStatusPending   TxStatus = "PENDING"
	TxStatusConfirmed TxStatus = "CONFIRMED"
	TxStatusFailed    TxStatus = "FAILED"
)

// ProcessedTransaction is the chain's view of a submitted or ledgered
// transaction. The top-level Hash is frequently absent; the adapter
// synthesises one.
type ProcessedTransaction struct {
	Hash      string   `json:"hash,omitempty"`
	Signature string   `json:"signature,omitempty"`
	Signer    string   `json:"signer"`
	Nonce     int64    `json:"nonce"`
	Timestamp int64    `json:"timestamp"`
	Status    TxStatus `json:"status"`
	// BlockNumber is zero until the transaction is included in a block.
	BlockNumber int64           `json:"block_number,omitempty"`
	Params      json.RawMessage `json:"params,omitempty"`
}

// Time returns the transaction timestamp as UTC time.
func (t *ProcessedTransaction) Time() time.Time {
	return time.Unix(t.Timestamp, 0).UTC()
}

// SignedTransaction is a transaction signed outside the client, for
// non-custodial flows.
type SignedTransaction struct {
	Params json.RawMessage `json:"params"`
	// SignerKey is the hex-encoded ed25519 public key of the signer.
	SignerKey string `json:"signer_key"`
	Nonce     int64  `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
	// Signature is the hex-encoded ed25519 signature over the submission
	// body.
	Signature string `json:"signature"`
}

// Account is the chain-side account state.
type Account struct {
	Address string `json:"address"`
	Balance int64  `json:"balance"`
	Nonce   int64  `json:"nonce"`
}

// ChainClient is the chain node surface the adapter consumes.
type ChainClient interface {
	// GetAccount returns balance and nonce for an address.
	GetAccount(ctx context.Context, address string) (*Account, error)
	// SignAndPostTransactionFromParams signs the params with the client's
	// signer key and submits them.
	SignAndPostTransactionFromParams(ctx context.Context, params TxParams) (*ProcessedTransaction, error)
	// PostTransaction submits an externally signed transaction.
	PostTransaction(ctx context.Context, tx SignedTransaction) (*ProcessedTransaction, error)
	// GetTransactionsBySigner returns the ledger entries signed by an
	// address.
	GetTransactionsBySigner(ctx context.Context, address string) ([]ProcessedTransaction, error)
	// GetTransactionByHash looks up one transaction.
	GetTransactionByHash(ctx context.Context, hash string) (*ProcessedTransaction, error)
	// GetTransactionsByBlock returns the transactions of one block.
	GetTransactionsByBlock(ctx context.Context, block int64) ([]ProcessedTransaction, error)
	// SetSignerKey installs the signing key. Serialised with any in-flight
	// signed submission.
	SetSignerKey(key ed25519.PrivateKey) error
}
