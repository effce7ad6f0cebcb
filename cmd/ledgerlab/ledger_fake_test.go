package main

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
)

// fakeLedger is a JSON-RPC node backed by an in-memory ledger. It verifies
// signatures on every sent transaction, moves SOL for system transfers,
// charges the fee payer per signature and reports every signature finalized.
type fakeLedger struct {
	mu sync.Mutex

	balances map[solanago.PublicKey]uint64
	accounts map[solanago.PublicKey]bool
	sent     []*solanago.Transaction
	methods  []string
}

func newFakeLedger(t *testing.T) (*fakeLedger, *httptest.Server) {
	t.Helper()
	f := &fakeLedger{
		balances: make(map[solanago.PublicKey]uint64),
		accounts: make(map[solanago.PublicKey]bool),
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeLedger) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	result, err := f.handle(req.Method, req.Params)
	f.mu.Unlock()

	resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
	if err != nil {
		resp["error"] = map[string]interface{}{"code": -32002, "message": err.Error()}
	} else {
		resp["result"] = result
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func withContext(value interface{}) map[string]interface{} {
	return map[string]interface{}{
		"context": map[string]interface{}{"slot": 7},
		"value":   value,
	}
}

func firstAddress(params []json.RawMessage) (solanago.PublicKey, error) {
	if len(params) == 0 {
		return solanago.PublicKey{}, errors.New("missing address")
	}
	var s string
	if err := json.Unmarshal(params[0], &s); err != nil {
		return solanago.PublicKey{}, err
	}
	return solanago.PublicKeyFromBase58(s)
}

func (f *fakeLedger) handle(method string, params []json.RawMessage) (interface{}, error) {
	switch method {
	case "getBalance":
		pk, err := firstAddress(params)
		if err != nil {
			return nil, err
		}
		return withContext(f.balances[pk]), nil

	case "getLatestBlockhash":
		return withContext(map[string]interface{}{
			"blockhash":            solanago.Hash{}.String(),
			"lastValidBlockHeight": 100,
		}), nil

	case "getMinimumBalanceForRentExemption":
		return 1461600, nil

	case "getAccountInfo":
		pk, err := firstAddress(params)
		if err != nil {
			return nil, err
		}
		if !f.accounts[pk] {
			return withContext(nil), nil
		}
		return withContext(map[string]interface{}{
			"lamports":   2039280,
			"owner":      solanago.TokenProgramID.String(),
			"data":       []string{"", "base64"},
			"executable": false,
			"rentEpoch":  0,
		}), nil

	case "sendTransaction":
		var encoded string
		if err := json.Unmarshal(params[0], &encoded); err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
		tx, err := solana.DecodeTransaction(data)
		if err != nil {
			return nil, err
		}
		if err := tx.VerifySignatures(); err != nil {
			return nil, fmt.Errorf("signature verification failed: %w", err)
		}
		transfers, err := solana.DecodeTransfers(tx)
		if err != nil {
			return nil, err
		}
		f.balances[tx.Message.AccountKeys[0]] -= 5000 * uint64(len(tx.Signatures))
		for _, t := range transfers {
			if t.Kind == solana.TransferKindSOL {
				f.balances[t.From] -= t.Amount
				f.balances[t.To] += t.Amount
			}
		}
		f.sent = append(f.sent, tx)
		return tx.Signatures[0].String(), nil

	case "getSignatureStatuses":
		var sigs []string
		if err := json.Unmarshal(params[0], &sigs); err != nil {
			return nil, err
		}
		statuses := make([]interface{}, 0, len(sigs))
		for range sigs {
			statuses = append(statuses, map[string]interface{}{
				"slot":               9,
				"confirmations":      nil,
				"err":                nil,
				"confirmationStatus": "finalized",
			})
		}
		return withContext(statuses), nil
	}
	return nil, fmt.Errorf("method %s not supported", method)
}

func (f *fakeLedger) lastSent() *solanago.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeLedger) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.methods...)
}

// programs lists the program invoked by each instruction of tx, in order.
func programs(tx *solanago.Transaction) []solanago.PublicKey {
	out := make([]solanago.PublicKey, 0, len(tx.Message.Instructions))
	for _, ix := range tx.Message.Instructions {
		out = append(out, tx.Message.AccountKeys[ix.ProgramIDIndex])
	}
	return out
}

// isolateEnv clears settings that would make commands dial real services and
// installs payer as the signing identity.
func isolateEnv(t *testing.T, payer solanago.PrivateKey) {
	t.Helper()
	for _, k := range []string{"DATABASE_URL", "NATS_URL", "METRICS_ADDR", "SECRET_MNEMONIC_VAR", "MINT_ADDRESS", "SOLANA_RPC_URL", "COMMITMENT", "CONFIRM_TIMEOUT", "LAMPORTS_PER_SIGNATURE"} {
		t.Setenv(k, "")
	}
	t.Setenv("SOLANA_NETWORK", "devnet")
	t.Setenv("CONFIRM_POLL_INTERVAL", "10ms")
	t.Setenv("SECRET_KEY_VAR", "SECRET_KEY")
	t.Setenv("SECRET_KEY", payer.String())
}
