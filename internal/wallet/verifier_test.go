package wallet

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"strings"
	"testing"

	"github.com/nspcc-dev/neo-go/pkg/crypto/keys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/models"
)

func TestEd25519Ownership(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)
	msg := []byte("ScholarFlow sign-in")

	address, err := Ed25519Verifier{}.Address(pubHex)
	require.NoError(t, err)
	assert.Len(t, address, 66)

	sig := ed25519.Sign(priv, PersonalMessageDigest(msg))
	registry := NewRegistry()

	require.NoError(t, registry.VerifyOwnership(models.SchemeEd25519, address, pubHex, msg, hex.EncodeToString(sig)))

	err = registry.VerifyOwnership(models.SchemeEd25519, address, pubHex, []byte("other"), hex.EncodeToString(sig))
	assert.True(t, errors.Is(err, ErrBadSignature))

	err = registry.VerifyOwnership(models.SchemeEd25519, "0x00", pubHex, msg, hex.EncodeToString(sig))
	assert.True(t, errors.Is(err, ErrAddressMismatch))
}

func TestEd25519AddressIsCaseInsensitive(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)
	address, err := Ed25519Verifier{}.Address(pubHex)
	require.NoError(t, err)

	msg := []byte("hello")
	sig := hex.EncodeToString(ed25519.Sign(priv, PersonalMessageDigest(msg)))
	upper := "0X" + strings.ToUpper(address[2:])
	assert.NoError(t, NewRegistry().VerifyOwnership(models.SchemeEd25519, upper, pubHex, msg, sig))
}

func TestSecp256r1Ownership(t *testing.T) {
	priv, err := keys.NewPrivateKey()
	require.NoError(t, err)
	pub := priv.PublicKey()
	pubHex := hex.EncodeToString(pub.Bytes())
	msg := []byte("ScholarFlow sign-in")

	sig := priv.Sign(msg)
	registry := NewRegistry()

	require.NoError(t, registry.VerifyOwnership(models.SchemeSecp256r1, pub.Address(), pubHex, msg, hex.EncodeToString(sig)))

	err = registry.VerifyOwnership(models.SchemeSecp256r1, pub.Address(), pubHex, []byte("tampered"), hex.EncodeToString(sig))
	assert.True(t, errors.Is(err, ErrBadSignature))
}

func TestUnsupportedScheme(t *testing.T) {
	err := NewRegistry().VerifyOwnership("rsa", "addr", "00", nil, "00")
	assert.True(t, errors.Is(err, ErrUnsupportedScheme))
}

func TestAppendULEB128(t *testing.T) {
	assert.Equal(t, []byte{0x05}, appendULEB128(nil, 5))
	assert.Equal(t, []byte{0xac, 0x02}, appendULEB128(nil, 300))
}
