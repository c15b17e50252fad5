// Package wallet verifies that a sign-in message was signed by the key behind an address.
package wallet

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/nspcc-dev/neo-go/pkg/crypto/hash"
	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"golang.org/x/crypto/blake2b"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

const ed25519Flag byte = 0x00

// personalMessageIntent prefixes off-chain messages so they can never be replayed as transactions.
var personalMessageIntent = []byte{3, 0, 0}

var (
	ErrUnsupportedScheme = errors.New("unsupported signature scheme")
	ErrAddressMismatch   = errors.New("public key does not match address")
	ErrBadSignature      = errors.New("signature verification failed")
)

// Verifier checks a signature for one scheme.
type Verifier interface {
	// Address derives the canonical address for a hex public key.
	Address(publicKeyHex string) (string, error)
	// Verify checks sigHex over message for publicKeyHex.
	Verify(publicKeyHex string, message []byte, sigHex string) error
}

// Registry dispatches to the verifier of each supported scheme.
type Registry struct {
	verifiers map[models.SignatureScheme]Verifier
}

// NewRegistry returns a registry with ed25519 and secp256r1 support.
func NewRegistry() *Registry {
	return &Registry{verifiers: map[models.SignatureScheme]Verifier{
		models.SchemeEd25519:   Ed25519Verifier{},
		models.SchemeSecp256r1: Secp256r1Verifier{},
	}}
}

// ResolveAddress derives the address a public key controls under scheme.
func (r *Registry) ResolveAddress(scheme models.SignatureScheme, publicKeyHex string) (string, error) {
	v, ok := r.verifiers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	return v.Address(publicKeyHex)
}

// VerifyOwnership checks that the key derives address and signed message.
func (r *Registry) VerifyOwnership(scheme models.SignatureScheme, address, publicKeyHex string, message []byte, sigHex string) error {
	v, ok := r.verifiers[scheme]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, scheme)
	}
	derived, err := v.Address(publicKeyHex)
	if err != nil {
		return err
	}
	if NormalizeAddress(derived) != NormalizeAddress(address) {
		return ErrAddressMismatch
	}
	return v.Verify(publicKeyHex, message, sigHex)
}

// NormalizeAddress lower-cases hex addresses; base58 addresses are case-sensitive and kept as-is.
func NormalizeAddress(address string) string {
	address = strings.TrimSpace(address)
	if strings.HasPrefix(address, "0x") || strings.HasPrefix(address, "0X") {
		return strings.ToLower(address)
	}
	return address
}

// Ed25519Verifier implements the IOTA/Move wallet scheme.
type Ed25519Verifier struct{}

// Address is 0x-prefixed blake2b-256(flag || pubkey).
func (Ed25519Verifier) Address(publicKeyHex string) (string, error) {
	pub, err := decodeHex(publicKeyHex, ed25519.PublicKeySize, "public key")
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(append([]byte{ed25519Flag}, pub...))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

// Verify checks an ed25519 signature over the personal-message digest.
func (Ed25519Verifier) Verify(publicKeyHex string, message []byte, sigHex string) error {
	pub, err := decodeHex(publicKeyHex, ed25519.PublicKeySize, "public key")
	if err != nil {
		return err
	}
	sig, err := decodeHex(sigHex, ed25519.SignatureSize, "signature")
	if err != nil {
		return err
	}
	if !ed25519.Verify(ed25519.PublicKey(pub), PersonalMessageDigest(message), sig) {
		return ErrBadSignature
	}
	return nil
}

// PersonalMessageDigest is blake2b-256(intent || uleb128(len) || message).
func PersonalMessageDigest(message []byte) []byte {
	buf := make([]byte, 0, len(personalMessageIntent)+5+len(message))
	buf = append(buf, personalMessageIntent...)
	buf = appendULEB128(buf, uint64(len(message)))
	buf = append(buf, message...)
	sum := blake2b.Sum256(buf)
	return sum[:]
}

// Secp256r1Verifier implements the Neo N3 wallet scheme.
type Secp256r1Verifier struct{}

// Address returns the Neo N3 address of a compressed public key.
func (Secp256r1Verifier) Address(publicKeyHex string) (string, error) {
	pub, err := keys.NewPublicKeyFromString(publicKeyHex)
	if err != nil {
		return "", fmt.Errorf("decode public key: %w", err)
	}
	return pub.Address(), nil
}

// Verify checks a 64-byte r||s signature over sha256(message).
func (Secp256r1Verifier) Verify(publicKeyHex string, message []byte, sigHex string) error {
	pub, err := keys.NewPublicKeyFromString(publicKeyHex)
	if err != nil {
		return fmt.Errorf("decode public key: %w", err)
	}
	sig, err := decodeHex(sigHex, 64, "signature")
	if err != nil {
		return err
	}
	if !pub.Verify(sig, hash.Sha256(message).BytesBE()) {
		return ErrBadSignature
	}
	return nil
}

func decodeHex(raw string, size int, what string) ([]byte, error) {
	raw = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(raw), "0x"), "0X")
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", what, err)
	}
	if len(b) != size {
		return nil, fmt.Errorf("%s must be %d bytes, got %d", what, size, len(b))
	}
	return b, nil
}

func appendULEB128(buf []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(buf, b)
		}
		buf = append(buf, b|0x80)
	}
}
