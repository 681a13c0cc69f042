package solana

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/x402wrap/x402wrap/config"
)

func newRPCServer(t *testing.T, response string, capture *map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if capture != nil {
			body, _ := io.ReadAll(r.Body)
			var req map[string]interface{}
			if err := json.Unmarshal(body, &req); err != nil {
				t.Errorf("bad rpc request body: %v", err)
			}
			*capture = req
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(response))
	}))
}

func newTestClient(t *testing.T, rpcURL string) *Client {
	t.Helper()
	client, err := NewClient(config.SolanaConfig{
		RPCURL:     rpcURL,
		Commitment: "confirmed",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

const confirmedTransferResponse = `{
  "jsonrpc": "2.0",
  "id": 1,
  "result": {
    "slot": 123456789,
    "blockTime": 1700000000,
    "transaction": {
      "message": {
        "accountKeys": [
          {"pubkey": "payerWallet11111111111111111111", "signer": true},
          {"pubkey": "recipientWallet1111111111111111", "signer": false}
        ]
      }
    },
    "meta": {
      "err": null,
      "preTokenBalances": [
        {"accountIndex": 1, "mint": "USDCmint", "owner": "payerWallet11111111111111111111", "uiTokenAmount": {"amount": "500000", "decimals": 6}},
        {"accountIndex": 2, "mint": "USDCmint", "owner": "recipientWallet1111111111111111", "uiTokenAmount": {"amount": "100000", "decimals": 6}}
      ],
      "postTokenBalances": [
        {"accountIndex": 1, "mint": "USDCmint", "owner": "payerWallet11111111111111111111", "uiTokenAmount": {"amount": "490000", "decimals": 6}},
        {"accountIndex": 2, "mint": "USDCmint", "owner": "recipientWallet1111111111111111", "uiTokenAmount": {"amount": "110000", "decimals": 6}}
      ]
    }
  }
}`

func TestGetTransaction_ParsesConfirmedTransfer(t *testing.T) {
	var captured map[string]interface{}
	server := newRPCServer(t, confirmedTransferResponse, &captured)
	defer server.Close()

	client := newTestClient(t, server.URL)
	tx, err := client.GetTransaction(context.Background(), "sigABC")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}

	if tx.Failed {
		t.Fatal("expected successful transaction")
	}
	if tx.Slot != 123456789 {
		t.Fatalf("unexpected slot %d", tx.Slot)
	}
	if !tx.BlockTime.Equal(time.Unix(1700000000, 0).UTC()) {
		t.Fatalf("unexpected block time %v", tx.BlockTime)
	}
	if tx.FeePayer != "payerWallet11111111111111111111" {
		t.Fatalf("unexpected fee payer %q", tx.FeePayer)
	}

	if len(tx.Transfers) != 2 {
		t.Fatalf("expected 2 transfers, got %d", len(tx.Transfers))
	}
	deltas := make(map[string]int64, len(tx.Transfers))
	for _, tr := range tx.Transfers {
		if tr.Mint != "USDCmint" {
			t.Fatalf("unexpected mint %q", tr.Mint)
		}
		deltas[tr.Owner] = tr.Delta
	}
	if deltas["payerWallet11111111111111111111"] != -10000 {
		t.Fatalf("expected payer delta -10000, got %d", deltas["payerWallet11111111111111111111"])
	}
	if deltas["recipientWallet1111111111111111"] != 10000 {
		t.Fatalf("expected recipient delta 10000, got %d", deltas["recipientWallet1111111111111111"])
	}

	// The lookup must pin commitment and ask for parsed balances.
	params, ok := captured["params"].([]interface{})
	if !ok || len(params) != 2 {
		t.Fatalf("unexpected rpc params: %v", captured["params"])
	}
	if params[0] != "sigABC" {
		t.Fatalf("expected signature param, got %v", params[0])
	}
	opts, ok := params[1].(map[string]interface{})
	if !ok {
		t.Fatalf("expected options object, got %v", params[1])
	}
	if opts["commitment"] != "confirmed" {
		t.Fatalf("expected confirmed commitment, got %v", opts["commitment"])
	}
	if opts["encoding"] != "jsonParsed" {
		t.Fatalf("expected jsonParsed encoding, got %v", opts["encoding"])
	}
}

func TestGetTransaction_NotFound(t *testing.T) {
	server := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"result":null}`, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetTransaction(context.Background(), "missing")
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestGetTransaction_RPCError(t *testing.T) {
	server := newRPCServer(t, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"node is behind"}}`, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.GetTransaction(context.Background(), "sig")
	if err == nil || errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected a distinct rpc error, got %v", err)
	}
}

func TestGetTransaction_FailedOnChain(t *testing.T) {
	response := `{
      "jsonrpc": "2.0",
      "id": 1,
      "result": {
        "slot": 1,
        "blockTime": 1700000000,
        "transaction": {"message": {"accountKeys": []}},
        "meta": {"err": {"InstructionError": [0, "Custom"]}, "preTokenBalances": [], "postTokenBalances": []}
      }
    }`
	server := newRPCServer(t, response, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	tx, err := client.GetTransaction(context.Background(), "sigfail")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.Failed {
		t.Fatal("expected Failed for a transaction with a meta error")
	}
}

func TestGetTransaction_MissingBlockTime(t *testing.T) {
	response := `{
      "jsonrpc": "2.0",
      "id": 1,
      "result": {
        "slot": 1,
        "blockTime": null,
        "transaction": {"message": {"accountKeys": []}},
        "meta": {"err": null, "preTokenBalances": [], "postTokenBalances": []}
      }
    }`
	server := newRPCServer(t, response, nil)
	defer server.Close()

	client := newTestClient(t, server.URL)
	tx, err := client.GetTransaction(context.Background(), "signotime")
	if err != nil {
		t.Fatalf("GetTransaction: %v", err)
	}
	if !tx.BlockTime.IsZero() {
		t.Fatalf("expected zero block time, got %v", tx.BlockTime)
	}
}

func TestNewClient_RequiresRPCURL(t *testing.T) {
	if _, err := NewClient(config.SolanaConfig{}); err == nil {
		t.Fatal("expected error without rpc url")
	}
}
