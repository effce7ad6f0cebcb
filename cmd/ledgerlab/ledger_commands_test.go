package main

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/brojonat/ledgerlab/service/solana"
	solanago "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signedTransferBase64(t *testing.T) (string, solanago.PublicKey) {
	t.Helper()
	payer, err := solanago.NewRandomPrivateKey()
	require.NoError(t, err)
	recipient := solanago.MustPublicKeyFromBase58(testRecipient)

	tx, err := solanago.NewTransaction([]solanago.Instruction{
		solana.TransferSOL(payer.PublicKey(), recipient, 1_500_000),
		solana.Memo("order 12", payer.PublicKey()),
	}, solanago.Hash{}, solanago.TransactionPayer(payer.PublicKey()))
	require.NoError(t, err)
	_, err = tx.Sign(func(k solanago.PublicKey) *solanago.PrivateKey {
		if k.Equals(payer.PublicKey()) {
			return &payer
		}
		return nil
	})
	require.NoError(t, err)

	wire, err := tx.MarshalBinary()
	require.NoError(t, err)
	return base64.StdEncoding.EncodeToString(wire), payer.PublicKey()
}

func TestTxDecode(t *testing.T) {
	encoded, payer := signedTransferBase64(t)

	out, err := runApp(t, "tx", "decode", encoded)
	require.NoError(t, err)
	assert.Contains(t, out, "Fee payer: "+payer.String())
	assert.Contains(t, out, "Memo:      order 12")
	assert.Contains(t, out, "sol:")
	assert.Contains(t, out, "1500000 "+payer.String()+" -> "+testRecipient)

	out, err = runApp(t, "--json", "tx", "decode", encoded)
	require.NoError(t, err)
	var decoded struct {
		FeePayer  string `json:"fee_payer"`
		Memo      string `json:"memo"`
		Transfers []struct {
			Amount uint64 `json:"amount"`
		} `json:"transfers"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, payer.String(), decoded.FeePayer)
	assert.Equal(t, "order 12", decoded.Memo)
	require.Len(t, decoded.Transfers, 1)
	assert.Equal(t, uint64(1_500_000), decoded.Transfers[0].Amount)
}

func TestTxDecode_Invalid(t *testing.T) {
	_, err := runApp(t, "tx", "decode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires exactly one argument")

	_, err = runApp(t, "tx", "decode", "not base64!")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base64")

	// Decodes as a message with no account keys, so there is no fee payer.
	_, err = runApp(t, "tx", "decode", base64.StdEncoding.EncodeToString(make([]byte, 38)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no account keys")
}
