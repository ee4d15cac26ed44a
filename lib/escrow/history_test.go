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
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const historyTarget = "addr-alice"

func ledgerEntry(t *testing.T, nonce int64, ts time.Time, params TxParams) ProcessedTransaction {
	t.Helper()
	raw, err := EncodeParams(params)
	require.NoError(t, err)
	return ProcessedTransaction{
		Signature: "sig-for-nonce",
		Signer:    historyTarget,
		Nonce:     nonce,
		Timestamp: ts.Unix(),
		Status:    TxStatusConfirmed,
		Params:    raw,
	}
}

func TestParseHistory(t *testing.T) {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	entries := []ProcessedTransaction{
		ledgerEntry(t, 1, base, TxParams{
			Kind:   KindFaucet,
			Faucet: &FaucetParams{Amount: 10_000},
		}),
		ledgerEntry(t, 2, base.Add(time.Minute), TxParams{
			Kind:     KindTransfer,
			Transfer: &TransferParams{From: historyTarget, To: "addr-bob", Amount: 2_500},
		}),
		ledgerEntry(t, 3, base.Add(2*time.Minute), TxParams{
			Kind: KindCreateEscrow,
			CreateEscrow: &CreateEscrowParams{
				EscrowID:  "esc-1",
				Amount:    50_000,
				ExpiresAt: base.Add(24 * time.Hour).Unix(),
				Recipient: "addr-bob",
			},
		}),
		ledgerEntry(t, 4, base.Add(3*time.Minute), TxParams{
			Kind:          KindFulfillEscrow,
			FulfillEscrow: &EscrowRefParams{EscrowID: "esc-2"},
		}),
	}

	parsed, err := ParseHistory(entries, historyTarget)
	require.NoError(t, err)
	require.Len(t, parsed, 4)

	// newest first
	require.Equal(t, TxTypeEscrowFulfill, parsed[0].Type)
	require.Equal(t, TxTypeEscrowCreate, parsed[1].Type)
	require.Equal(t, TxTypeSend, parsed[2].Type)
	require.Equal(t, TxTypeFaucet, parsed[3].Type)

	// faucet reverses sender and receiver: the signer is the receiver
	faucet := parsed[3]
	require.Equal(t, "faucet", faucet.From)
	require.Equal(t, historyTarget, faucet.To)
	require.Equal(t, "100.00", faucet.Amount)

	// fulfil entries have unknown senders until the escrow is looked up
	fulfil := parsed[0]
	require.Empty(t, fulfil.From)
	require.Equal(t, historyTarget, fulfil.To)
	require.Equal(t, "esc-2", fulfil.Metadata.EscrowID)

	create := parsed[1]
	require.Equal(t, historyTarget, create.From)
	require.Equal(t, "addr-bob", create.To)
	require.Equal(t, "500.00", create.Amount)
	require.Equal(t, "esc-1", create.Metadata.EscrowID)

	send := parsed[2]
	require.Equal(t, "addr-bob", send.To)
	require.Equal(t, "25.00", send.Amount)
}

func TestParseHistorySkipsForeignSigners(t *testing.T) {
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)
	entry := ledgerEntry(t, 1, base, TxParams{
		Kind:   KindFaucet,
		Faucet: &FaucetParams{Amount: 100},
	})
	entry.Signer = "addr-someone-else"

	parsed, err := ParseHistory([]ProcessedTransaction{entry}, historyTarget)
	require.NoError(t, err)
	require.Empty(t, parsed)
}

func TestParseHistoryUnknownClass(t *testing.T) {
	raw, err := json.Marshal(map[string]any{"class": "GovernanceVote", "body": map[string]any{}})
	require.NoError(t, err)
	entry := ProcessedTransaction{
		Signer:    historyTarget,
		Nonce:     9,
		Timestamp: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC).Unix(),
		Params:    raw,
	}

	parsed, err := ParseHistory([]ProcessedTransaction{entry}, historyTarget)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	require.Equal(t, TxTypeUnknown, parsed[0].Type)
	require.Equal(t, "0.00", parsed[0].Amount)
}

func TestPaginate(t *testing.T) {
	list := make([]ParsedTransaction, 7)
	for i := range list {
		list[i].Metadata.Nonce = int64(i)
	}

	page, err := Paginate(list, 1, 3)
	require.NoError(t, err)
	require.Len(t, page, 3)
	require.Equal(t, int64(0), page[0].Metadata.Nonce)

	page, err = Paginate(list, 3, 3)
	require.NoError(t, err)
	require.Len(t, page, 1)
	require.Equal(t, int64(6), page[0].Metadata.Nonce)

	page, err = Paginate(list, 4, 3)
	require.NoError(t, err)
	require.Empty(t, page)

	_, err = Paginate(list, 0, 3)
	require.Error(t, err)
}
