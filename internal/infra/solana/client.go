package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/x402wrap/x402wrap/config"
)

// ErrTransactionNotFound signals that the ledger has no confirmed
// transaction for the given signature at the requested commitment level.
var ErrTransactionNotFound = errors.New("transaction not found or not confirmed")

// Transaction is the subset of a confirmed Solana transaction the payment
// verifier needs: finality, age, the fee payer and per-owner token deltas.
type Transaction struct {
	Signature string
	Slot      uint64
	BlockTime time.Time
	Failed    bool
	FeePayer  string
	Transfers []TokenTransfer
}

// TokenTransfer is the balance delta of one (owner, mint) pair across the
// transaction, in the token's raw minimum units.
type TokenTransfer struct {
	Owner string
	Mint  string
	Delta int64
}

// Client talks to a Solana JSON-RPC node. Lookups always use the configured
// commitment level, which config validation pins to confirmed or finalized;
// the verifier never sees speculative state.
type Client struct {
	rpcURL     string
	commitment string
	httpClient *http.Client
}

// NewClient builds a ledger client from app config.
func NewClient(cfg config.SolanaConfig) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, errors.New("solana: rpc url is required")
	}

	timeout := 10 * time.Second
	if cfg.RequestTimeout != "" {
		d, err := time.ParseDuration(cfg.RequestTimeout)
		if err != nil {
			return nil, fmt.Errorf("solana: invalid request timeout: %w", err)
		}
		timeout = d
	}

	return &Client{
		rpcURL:     cfg.RPCURL,
		commitment: cfg.Commitment,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type getTransactionResponse struct {
	Result *struct {
		Slot        uint64 `json:"slot"`
		BlockTime   *int64 `json:"blockTime"`
		Transaction struct {
			Message struct {
				AccountKeys []struct {
					Pubkey string `json:"pubkey"`
					Signer bool   `json:"signer"`
				} `json:"accountKeys"`
			} `json:"message"`
		} `json:"transaction"`
		Meta *struct {
			Err               interface{}    `json:"err"`
			PreTokenBalances  []tokenBalance `json:"preTokenBalances"`
			PostTokenBalances []tokenBalance `json:"postTokenBalances"`
		} `json:"meta"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

type tokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		Amount   string `json:"amount"`
		Decimals int    `json:"decimals"`
	} `json:"uiTokenAmount"`
}

// GetTransaction fetches one confirmed transaction by signature.
func (c *Client) GetTransaction(ctx context.Context, signature string) (*Transaction, error) {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTransaction",
		Params: []interface{}{
			signature,
			map[string]interface{}{
				"commitment":                     c.commitment,
				"encoding":                       "jsonParsed",
				"maxSupportedTransactionVersion": 0,
			},
		},
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("solana: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("solana: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("solana: rpc call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("solana: rpc status %d", resp.StatusCode)
	}

	var rpcResp getTransactionResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("solana: decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("solana: rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if rpcResp.Result == nil {
		return nil, ErrTransactionNotFound
	}

	res := rpcResp.Result
	tx := &Transaction{
		Signature: signature,
		Slot:      res.Slot,
	}
	if res.BlockTime != nil {
		tx.BlockTime = time.Unix(*res.BlockTime, 0).UTC()
	}
	if res.Meta != nil {
		tx.Failed = res.Meta.Err != nil
		tx.Transfers = tokenDeltas(res.Meta.PreTokenBalances, res.Meta.PostTokenBalances)
	}
	for _, key := range res.Transaction.Message.AccountKeys {
		if key.Signer {
			// The first signer is the fee payer.
			tx.FeePayer = key.Pubkey
			break
		}
	}

	return tx, nil
}

type ownerMint struct {
	owner string
	mint  string
}

// tokenDeltas folds pre/post token balances into per-(owner, mint) deltas
// in raw units. Amounts are decimal strings of the raw integer balance.
func tokenDeltas(pre, post []tokenBalance) []TokenTransfer {
	deltas := make(map[ownerMint]int64)

	for _, b := range pre {
		if amount, ok := parseRawAmount(b.UITokenAmount.Amount); ok {
			deltas[ownerMint{b.Owner, b.Mint}] -= amount
		}
	}
	for _, b := range post {
		if amount, ok := parseRawAmount(b.UITokenAmount.Amount); ok {
			deltas[ownerMint{b.Owner, b.Mint}] += amount
		}
	}

	transfers := make([]TokenTransfer, 0, len(deltas))
	for key, delta := range deltas {
		if delta == 0 {
			continue
		}
		transfers = append(transfers, TokenTransfer{
			Owner: key.owner,
			Mint:  key.mint,
			Delta: delta,
		})
	}
	return transfers
}

func parseRawAmount(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	var n int64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int64(r-'0')
	}
	return n, true
}
