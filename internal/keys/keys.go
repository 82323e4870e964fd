// Package keys generates the signing identity of a run.
package keys

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"io"

	xerrors "tokenflow/internal/errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyPair is a secp256k1 key pair and the address derived from it. It is
// never mutated after Generate returns.
type KeyPair struct {
	private *ecdsa.PrivateKey
	address common.Address
}

// Generate creates a key pair from random. A nil random uses crypto/rand.
func Generate(random io.Reader) (*KeyPair, error) {
	if random == nil {
		random = rand.Reader
	}
	private, err := ecdsa.GenerateKey(crypto.S256(), random)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeKeyGeneration, err, "")
	}
	return FromPrivateKey(private)
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(private *ecdsa.PrivateKey) (*KeyPair, error) {
	if private == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "private key is nil")
	}
	return &KeyPair{private: private, address: crypto.PubkeyToAddress(private.PublicKey)}, nil
}

// FromHex parses a hex encoded private key, with or without 0x prefix.
func FromHex(hexKey string) (*KeyPair, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	private, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse private key")
	}
	return FromPrivateKey(private)
}

// PrivateKey returns the signing key.
func (k *KeyPair) PrivateKey() *ecdsa.PrivateKey { return k.private }

// Address returns the account derived from the public key.
func (k *KeyPair) Address() common.Address { return k.address }

// PrivateKeyHex returns the 0x prefixed private scalar.
func (k *KeyPair) PrivateKeyHex() string {
	return hexutil.Encode(crypto.FromECDSA(k.private))
}

// PublicKeyHex returns the 0x prefixed compressed public key.
func (k *KeyPair) PublicKeyHex() string {
	return hexutil.Encode(crypto.CompressPubkey(&k.private.PublicKey))
}

// PublicKeySalt returns the X coordinate of the public key, left padded to 32
// bytes. Deployments salted with it land on the same address for the same key.
func (k *KeyPair) PublicKeySalt() common.Hash {
	return common.BigToHash(k.private.PublicKey.X)
}

// String hides the private key.
func (k *KeyPair) String() string {
	return fmt.Sprintf("KeyPair(%s)", k.address.Hex())
}

// RandomSalt returns 32 bytes read from random. A nil random uses crypto/rand.
func RandomSalt(random io.Reader) (common.Hash, error) {
	if random == nil {
		random = rand.Reader
	}
	var salt common.Hash
	if _, err := io.ReadFull(random, salt[:]); err != nil {
		return common.Hash{}, xerrors.Wrap(xerrors.CodeKeyGeneration, err, "read salt")
	}
	return salt, nil
}
