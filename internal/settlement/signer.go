package settlement

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer supplies signatures for transactions the service builds itself. In
// the delegated flow no Signer is involved: the buyer's wallet signs and
// submits, and we only verify the result.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(tx *solana.Transaction) error
}

// KeySigner signs with a locally held private key. Used by the custodial flow
// where the platform credential is the paying wallet.
type KeySigner struct {
	key solana.PrivateKey
}

// NewKeySigner parses a base58 private key into a signer.
func NewKeySigner(encoded string) (*KeySigner, error) {
	key, err := solana.PrivateKeyFromBase58(encoded)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return &KeySigner{key: key}, nil
}

func (s *KeySigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *KeySigner) Sign(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.key.PublicKey()) {
			return &s.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}
