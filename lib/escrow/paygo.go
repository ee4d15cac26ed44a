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
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gravitational/roundtrip"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// PayGoConfig configures a PayGo chain node client.
type PayGoConfig struct {
	// Addr is the node address, e.g. "https://node.paygo.example:8080".
	Addr string
	// SignerKey is the optional initial signing key; it can also be
	// installed later via SetSignerKey.
	SignerKey ed25519.PrivateKey
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
	// Clock is optional and can be used to control time in tests.
	Clock clockwork.Clock
	// Log is the client's log.
	Log *slog.Logger
}

// CheckAndSetDefaults checks and sets defaults.
func (c *PayGoConfig) CheckAndSetDefaults() error {
	if c.Addr == "" {
		return trace.BadParameter("missing parameter Addr")
	}
	if c.SignerKey != nil && len(c.SignerKey) != ed25519.PrivateKeySize {
		return trace.BadParameter("signer key has wrong size %v", len(c.SignerKey))
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Log == nil {
		c.Log = slog.Default()
	}
	c.Log = c.Log.With("component", "paygo-client")
	return nil
}

// NewPayGoClient returns a ChainClient talking to a PayGo node's REST API.
func NewPayGoClient(cfg PayGoConfig) (*PayGoClient, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	var opts []roundtrip.ClientParam
	if cfg.HTTPClient != nil {
		opts = append(opts, roundtrip.HTTPClient(cfg.HTTPClient))
	}
	clt, err := roundtrip.NewClient(cfg.Addr, "v1", opts...)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &PayGoClient{
		cfg: cfg,
		clt: clt,
		key: cfg.SignerKey,
	}, nil
}

// PayGoClient implements ChainClient over the PayGo node REST API. The
// signer key is owned by the client; SetSignerKey serialises with in-flight
// signed submissions.
type PayGoClient struct {
	cfg PayGoConfig
	clt *roundtrip.Client

	// mu guards key and orders signed submissions.
	mu  sync.Mutex
	key ed25519.PrivateKey
}

// SetSignerKey installs the signing key.
func (c *PayGoClient) SetSignerKey(key ed25519.PrivateKey) error {
	if len(key) != ed25519.PrivateKeySize {
		return trace.BadParameter("signer key has wrong size %v", len(key))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.key = key
	return nil
}

// SignerAddress returns the chain address of the installed key: the
// hex-encoded public key. Empty when no key is installed.
func (c *PayGoClient) SignerAddress() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return ""
	}
	return hex.EncodeToString(c.key.Public().(ed25519.PublicKey))
}

// GetAccount returns balance and nonce for an address.
func (c *PayGoClient) GetAccount(ctx context.Context, address string) (*Account, error) {
	re, err := c.clt.Get(ctx, c.clt.Endpoint("accounts", address), url.Values{})
	if err := chainError(re, err); err != nil {
		return nil, trace.Wrap(err)
	}
	var out Account
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed account response: %v", err)
	}
	return &out, nil
}

// SignAndPostTransactionFromParams signs the params with the installed key
// and submits them. The whole sequence holds the signer lock so a concurrent
// SetSignerKey cannot split the nonce fetch from the submission.
func (c *PayGoClient) SignAndPostTransactionFromParams(ctx context.Context, params TxParams) (*ProcessedTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.key == nil {
		return nil, trace.BadParameter("no signer key installed")
	}

	rawParams, err := EncodeParams(params)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	address := hex.EncodeToString(c.key.Public().(ed25519.PublicKey))
	account, err := c.GetAccount(ctx, address)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	tx := SignedTransaction{
		Params:    rawParams,
		SignerKey: address,
		Nonce:     account.Nonce + 1,
		Timestamp: c.cfg.Clock.Now().Unix(),
	}
	signable, err := json.Marshal(tx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	tx.Signature = hex.EncodeToString(ed25519.Sign(c.key, signable))

	out, err := c.post(ctx, tx)
	return out, trace.Wrap(err)
}

// PostTransaction submits an externally signed transaction.
func (c *PayGoClient) PostTransaction(ctx context.Context, tx SignedTransaction) (*ProcessedTransaction, error) {
	if tx.Signature == "" {
		return nil, trace.BadParameter("transaction is not signed")
	}
	out, err := c.post(ctx, tx)
	return out, trace.Wrap(err)
}

func (c *PayGoClient) post(ctx context.Context, tx SignedTransaction) (*ProcessedTransaction, error) {
	re, err := c.clt.PostJSON(ctx, c.clt.Endpoint("transactions"), tx)
	if err := chainError(re, err); err != nil {
		return nil, trace.Wrap(err)
	}
	var out ProcessedTransaction
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed transaction response: %v", err)
	}
	return &out, nil
}

// GetTransactionsBySigner returns the ledger entries signed by an address.
func (c *PayGoClient) GetTransactionsBySigner(ctx context.Context, address string) ([]ProcessedTransaction, error) {
	re, err := c.clt.Get(ctx, c.clt.Endpoint("signers", address, "transactions"), url.Values{})
	if err := chainError(re, err); err != nil {
		return nil, trace.Wrap(err)
	}
	var out []ProcessedTransaction
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed transaction list: %v", err)
	}
	return out, nil
}

// GetTransactionByHash looks up one transaction.
func (c *PayGoClient) GetTransactionByHash(ctx context.Context, hash string) (*ProcessedTransaction, error) {
	re, err := c.clt.Get(ctx, c.clt.Endpoint("transactions", hash), url.Values{})
	if err := chainError(re, err); err != nil {
		return nil, trace.Wrap(err)
	}
	var out ProcessedTransaction
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed transaction response: %v", err)
	}
	return &out, nil
}

// GetTransactionsByBlock returns the transactions of one block.
func (c *PayGoClient) GetTransactionsByBlock(ctx context.Context, block int64) ([]ProcessedTransaction, error) {
	re, err := c.clt.Get(ctx, c.clt.Endpoint("blocks", strconv.FormatInt(block, 10), "transactions"), url.Values{})
	if err := chainError(re, err); err != nil {
		return nil, trace.Wrap(err)
	}
	var out []ProcessedTransaction
	if err := json.Unmarshal(re.Bytes(), &out); err != nil {
		return nil, trace.BadParameter("malformed transaction list: %v", err)
	}
	return out, nil
}

// chainError folds the transport error and the HTTP status into one trace
// error.
func chainError(re *roundtrip.Response, err error) error {
	if err != nil {
		return trace.ConnectionProblem(err, "chain node request failed")
	}
	if re.Code() >= http.StatusBadRequest {
		return trace.ReadError(re.Code(), re.Bytes())
	}
	return nil
}
