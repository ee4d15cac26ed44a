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
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

// newPayGoNode fakes the node's REST API. It verifies submitted signatures
// against the declared signer key.
func newPayGoNode(t *testing.T) (*httptest.Server, *[]SignedTransaction) {
	t.Helper()
	var submitted []SignedTransaction

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/accounts/{address}", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Account{
			Address: r.PathValue("address"),
			Balance: 1_000_000,
			Nonce:   int64(len(submitted)),
		})
	})
	mux.HandleFunc("POST /v1/transactions", func(w http.ResponseWriter, r *http.Request) {
		var tx SignedTransaction
		if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		pub, err := hex.DecodeString(tx.SignerKey)
		if err != nil || len(pub) != ed25519.PublicKeySize {
			http.Error(w, "bad signer key", http.StatusBadRequest)
			return
		}
		sig, err := hex.DecodeString(tx.Signature)
		if err != nil {
			http.Error(w, "bad signature encoding", http.StatusBadRequest)
			return
		}
		unsigned := tx
		unsigned.Signature = ""
		signable, err := json.Marshal(unsigned)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !ed25519.Verify(pub, signable, sig) {
			http.Error(w, "signature verification failed", http.StatusForbidden)
			return
		}

		submitted = append(submitted, tx)
		json.NewEncoder(w).Encode(ProcessedTransaction{
			Signature: tx.Signature,
			Signer:    tx.SignerKey,
			Nonce:     tx.Nonce,
			Timestamp: tx.Timestamp,
			Status:    TxStatusConfirmed,
			Params:    tx.Params,
		})
	})
	mux.HandleFunc("GET /v1/transactions/{hash}", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"transaction not found"}}`, http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &submitted
}

func newTestPayGoClient(t *testing.T, addr string) *PayGoClient {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	clt, err := NewPayGoClient(PayGoConfig{
		Addr:      addr,
		SignerKey: priv,
		Clock:     clockwork.NewFakeClockAt(time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	return clt
}

func TestPayGoGetAccount(t *testing.T) {
	ctx := context.Background()
	srv, _ := newPayGoNode(t)
	clt := newTestPayGoClient(t, srv.URL)

	account, err := clt.GetAccount(ctx, "addr-alice")
	require.NoError(t, err)
	require.Equal(t, "addr-alice", account.Address)
	require.Equal(t, int64(1_000_000), account.Balance)
}

func TestPayGoSignAndPost(t *testing.T) {
	ctx := context.Background()
	srv, submitted := newPayGoNode(t)
	clt := newTestPayGoClient(t, srv.URL)

	tx, err := clt.SignAndPostTransactionFromParams(ctx, TxParams{
		Kind:     KindTransfer,
		Transfer: &TransferParams{From: clt.SignerAddress(), To: "addr-bob", Amount: 2_500},
	})
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, tx.Status)
	require.Equal(t, int64(1), tx.Nonce)
	require.Len(t, *submitted, 1)
	require.Equal(t, clt.SignerAddress(), (*submitted)[0].SignerKey)

	// the wire params carry the class discriminator
	params, err := DecodeParams(tx.Params)
	require.NoError(t, err)
	require.Equal(t, KindTransfer, params.Kind)
	require.Equal(t, int64(2_500), params.Transfer.Amount)
}

func TestPayGoRequiresSignerKey(t *testing.T) {
	ctx := context.Background()
	srv, _ := newPayGoNode(t)
	clt, err := NewPayGoClient(PayGoConfig{Addr: srv.URL})
	require.NoError(t, err)

	_, err = clt.SignAndPostTransactionFromParams(ctx, TxParams{
		Kind:     KindTransfer,
		Transfer: &TransferParams{To: "addr-bob", Amount: 100},
	})
	require.True(t, trace.IsBadParameter(err))

	_, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	require.NoError(t, clt.SetSignerKey(priv))
	_, err = clt.SignAndPostTransactionFromParams(ctx, TxParams{
		Kind:     KindTransfer,
		Transfer: &TransferParams{To: "addr-bob", Amount: 100},
	})
	require.NoError(t, err)
}

func TestPayGoNotFound(t *testing.T) {
	ctx := context.Background()
	srv, _ := newPayGoNode(t)
	clt := newTestPayGoClient(t, srv.URL)

	_, err := clt.GetTransactionByHash(ctx, "0x"+strings.Repeat("ab", 32))
	require.True(t, trace.IsNotFound(err), "got %v", err)
}
