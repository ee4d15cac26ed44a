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
	"fmt"
	"slices"
	"time"

	"github.com/gravitational/trace"
)

// TransactionType is the user-facing classification of a ledger entry.
type TransactionType string

const (
	TxTypeSend          TransactionType = "send"
	TxTypeReceive       TransactionType = "receive"
	TxTypeEscrowCreate  TransactionType = "escrow_create"
	TxTypeEscrowFulfill TransactionType = "escrow_fulfill"
	TxTypeEscrowRelease TransactionType = "escrow_release"
	TxTypeFaucet        TransactionType = "faucet"
	TxTypeUnknown       TransactionType = "unknown"
)

// TxMetadata carries the raw ledger details a client may want to show.
type TxMetadata struct {
	Nonce     int64  `json:"nonce"`
	ClassName string `json:"class_name"`
	EscrowID  string `json:"escrow_id,omitempty"`
}

// ParsedTransaction is one user-facing history entry.
type ParsedTransaction struct {
	ID   string          `json:"id"`
	Type TransactionType `json:"type"`
	// Amount is a decimal currency string, e.g. "5.00".
	Amount string `json:"amount"`
	// From and To may be empty when the counterparty is not derivable from
	// the entry alone; fulfil entries have unknown senders until the
	// original escrow is looked up.
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
	// Date is the entry time in RFC 3339.
	Date     string     `json:"date"`
	Hash     string     `json:"hash"`
	Metadata TxMetadata `json:"metadata"`
}

// ParseHistory classifies the ledger entries signed by target into
// user-facing transactions, newest first.
func ParseHistory(entries []ProcessedTransaction, target string) ([]ParsedTransaction, error) {
	out := make([]ParsedTransaction, 0, len(entries))
	for i := range entries {
		entry := &entries[i]
		if entry.Signer != "" && entry.Signer != target {
			continue
		}
		parsed, err := parseEntry(entry, target)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, parsed)
	}
	slices.SortStableFunc(out, func(a, b ParsedTransaction) int {
		if a.Date != b.Date {
			// RFC 3339 compares lexicographically
			if a.Date > b.Date {
				return -1
			}
			return 1
		}
		switch {
		case a.Metadata.Nonce > b.Metadata.Nonce:
			return -1
		case a.Metadata.Nonce < b.Metadata.Nonce:
			return 1
		}
		return 0
	})
	return out, nil
}

func parseEntry(entry *ProcessedTransaction, target string) (ParsedTransaction, error) {
	params, err := DecodeParams(entry.Params)
	if err != nil {
		return ParsedTransaction{}, trace.Wrap(err)
	}

	hash := NormalizeHash(entry)
	out := ParsedTransaction{
		ID:     fmt.Sprintf("%s-%d", target, entry.Nonce),
		Amount: DefaultAmountCodec.FromUnits(params.Amount()),
		Date:   entry.Time().Format(time.RFC3339),
		Hash:   hash,
		Metadata: TxMetadata{
			Nonce:     entry.Nonce,
			ClassName: string(params.Kind),
			EscrowID:  params.EscrowID(),
		},
	}

	switch params.Kind {
	case KindTransfer:
		if params.Transfer.To == target && params.Transfer.From != target {
			out.Type = TxTypeReceive
			out.From = params.Transfer.From
			out.To = target
		} else {
			out.Type = TxTypeSend
			out.From = target
			out.To = params.Transfer.To
		}
	case KindFaucet:
		// the signer of a faucet entry is the receiver
		out.Type = TxTypeFaucet
		out.From = "faucet"
		out.To = target
	case KindCreateEscrow:
		out.Type = TxTypeEscrowCreate
		out.From = target
		out.To = params.CreateEscrow.Recipient
	case KindFulfillEscrow:
		// the sender stays unknown until the original escrow is looked up
		out.Type = TxTypeEscrowFulfill
		out.To = target
	case KindReleaseEscrow:
		out.Type = TxTypeEscrowRelease
		out.From = target
	default:
		out.Type = TxTypeUnknown
	}
	return out, nil
}

// Paginate slices a parsed history with 1-based page indexing. Pages past
// the end are empty, not errors.
func Paginate(list []ParsedTransaction, page, pageSize int) ([]ParsedTransaction, error) {
	if page < 1 {
		return nil, trace.BadParameter("pages are 1-based, got %v", page)
	}
	if pageSize < 1 {
		pageSize = 50
	}
	start := (page - 1) * pageSize
	if start >= len(list) {
		return nil, nil
	}
	end := min(start+pageSize, len(list))
	return list[start:end], nil
}
