package solana

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/tyler-smith/go-bip39"
)

// Identity is a signing keypair. The private key never leaves this type:
// String and LogValue expose the public key only.
type Identity struct {
	key solana.PrivateKey
	pub solana.PublicKey
}

// NewIdentity wraps a 64-byte ed25519 private key (seed || public key).
func NewIdentity(key solana.PrivateKey) (*Identity, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, configError("load identity",
			fmt.Sprintf("private key must be %d bytes, got %d", ed25519.PrivateKeySize, len(key)), nil)
	}
	derived := ed25519.NewKeyFromSeed(key[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], key[ed25519.SeedSize:]) {
		return nil, configError("load identity", "public half does not match the private seed", nil)
	}
	return &Identity{
		key: key,
		pub: key.PublicKey(),
	}, nil
}

// GenerateIdentity creates a fresh random keypair, e.g. for a new mint account.
func GenerateIdentity() (*Identity, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return NewIdentity(key)
}

// IdentityFromSecret parses a secret in either the solana-keygen JSON format
// ("[12,34,...]") or as a base58-encoded private key.
func IdentityFromSecret(secret string) (*Identity, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, configError("load identity", "secret is empty", nil)
	}

	if strings.HasPrefix(secret, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(secret), &ints); err != nil {
			return nil, configError("load identity", "secret is not a JSON byte array", nil)
		}
		key := make(solana.PrivateKey, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, configError("load identity", "secret byte array has out-of-range values", nil)
			}
			key[i] = byte(v)
		}
		return NewIdentity(key)
	}

	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		// The decoder error can echo input; don't wrap it.
		return nil, configError("load identity", "secret is neither a JSON byte array nor base58", nil)
	}
	return NewIdentity(key)
}

// LoadIdentity reads the secret stored in the named environment variable.
func LoadIdentity(name string) (*Identity, error) {
	secret, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(secret) == "" {
		return nil, configError("load identity", fmt.Sprintf("missing secret: %s is not set", name), nil)
	}
	id, err := IdentityFromSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

// IdentityFromMnemonic derives a keypair from a BIP-39 mnemonic the same way
// `solana-keygen recover` does without a derivation path: the first 32 bytes of
// the BIP-39 seed are the ed25519 seed.
func IdentityFromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, configError("load identity", "mnemonic is not a valid BIP-39 phrase", nil)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	key := solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize]))
	return NewIdentity(key)
}

// LoadIdentityFromMnemonic reads a mnemonic from the named environment variable.
func LoadIdentityFromMnemonic(name, passphrase string) (*Identity, error) {
	mnemonic, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(mnemonic) == "" {
		return nil, configError("load identity", fmt.Sprintf("missing secret: %s is not set", name), nil)
	}
	id, err := IdentityFromMnemonic(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return id, nil
}

// PublicKey returns the identity's address.
func (i *Identity) PublicKey() solana.PublicKey {
	return i.pub
}

func (i *Identity) String() string {
	return i.pub.String()
}

// LogValue implements slog.LogValuer so loggers only ever see the address.
func (i *Identity) LogValue() slog.Value {
	return slog.StringValue(i.pub.String())
}

// GoString keeps %#v from dumping the key bytes.
func (i *Identity) GoString() string {
	return fmt.Sprintf("solana.Identity{%s}", i.pub)
}

func (i *Identity) privateKey() *solana.PrivateKey {
	return &i.key
}
