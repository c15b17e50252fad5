package service

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/ledger"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/repository"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

type testWallet struct {
	address string
	pubHex  string
	priv    ed25519.PrivateKey
}

func newTestWallet(t *testing.T) testWallet {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	pubHex := hex.EncodeToString(pub)
	address, err := wallet.Ed25519Verifier{}.Address(pubHex)
	require.NoError(t, err)
	return testWallet{address: address, pubHex: pubHex, priv: priv}
}

func (w testWallet) sign(message string) string {
	return hex.EncodeToString(ed25519.Sign(w.priv, wallet.PersonalMessageDigest([]byte(message))))
}

func newAuthFixture(t *testing.T, owners ...string) (*AuthService, *SessionService) {
	t.Helper()
	engine := ledger.NewEngine(ledger.NewMemoryStore(), testPackageID, nil)
	sessions := NewSessionService(engine, nil, nil)
	svc := NewAuthService(
		repository.NewMemoryChallengeStore(),
		wallet.NewRegistry(),
		authz.NewAuthority(nil, owners),
		sessions,
		nil,
		nil,
		AuthConfig{AccessTokenSecret: "test-secret", AccessTokenExpiry: time.Hour, ChallengeTTL: time.Minute},
	)
	return svc, sessions
}

func signIn(t *testing.T, svc *AuthService, w testWallet, role models.Role) (*models.ConnectResponse, error) {
	t.Helper()
	challenge, err := svc.Challenge(context.Background(), models.ChallengeRequest{
		Address: w.address, PublicKey: w.pubHex, Scheme: models.SchemeEd25519,
	})
	require.NoError(t, err)
	return svc.Connect(context.Background(), models.ConnectRequest{
		Address: w.address, Signature: w.sign(challenge.Message), RequestedRole: role,
	})
}

func TestChallengeConnectIssuesTokenAndSession(t *testing.T) {
	svc, sessions := newAuthFixture(t)
	w := newTestWallet(t)

	resp, err := signIn(t, svc, w, "")
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, resp.Role)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.True(t, sessions.Connected(w.address))

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, w.address, claims.Address)
	assert.Equal(t, models.RoleStudent, claims.Role)
	assert.NotEmpty(t, claims.ID)

	capability, err := svc.Authorize(claims)
	require.NoError(t, err)
	assert.Equal(t, w.address, capability.Holder())
}

func TestChallengeIsSingleUse(t *testing.T) {
	svc, _ := newAuthFixture(t)
	w := newTestWallet(t)
	ctx := context.Background()

	challenge, err := svc.Challenge(ctx, models.ChallengeRequest{Address: w.address, PublicKey: w.pubHex, Scheme: models.SchemeEd25519})
	require.NoError(t, err)
	req := models.ConnectRequest{Address: w.address, Signature: w.sign(challenge.Message)}

	_, err = svc.Connect(ctx, req)
	require.NoError(t, err)
	_, err = svc.Connect(ctx, req)
	assert.True(t, errors.Is(err, appErrors.ErrChallengeExpired))
}

func TestChallengeRejectsForeignPublicKey(t *testing.T) {
	svc, _ := newAuthFixture(t)
	w := newTestWallet(t)
	other := newTestWallet(t)

	_, err := svc.Challenge(context.Background(), models.ChallengeRequest{Address: w.address, PublicKey: other.pubHex, Scheme: models.SchemeEd25519})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidSignature))
}

func TestConnectRejectsBadSignature(t *testing.T) {
	svc, sessions := newAuthFixture(t)
	w := newTestWallet(t)
	ctx := context.Background()

	_, err := svc.Challenge(ctx, models.ChallengeRequest{Address: w.address, PublicKey: w.pubHex, Scheme: models.SchemeEd25519})
	require.NoError(t, err)
	_, err = svc.Connect(ctx, models.ConnectRequest{Address: w.address, Signature: w.sign("something else")})
	assert.True(t, errors.Is(err, appErrors.ErrInvalidSignature))
	assert.False(t, sessions.Connected(w.address))
}

func TestConnectRefusesUnentitledRole(t *testing.T) {
	w := newTestWallet(t)
	svc, _ := newAuthFixture(t)
	_, err := signIn(t, svc, w, models.RoleGrantOwner)
	assert.True(t, errors.Is(err, appErrors.ErrForbidden))

	ownerSvc, _ := newAuthFixture(t, w.address)
	resp, err := signIn(t, ownerSvc, w, models.RoleGrantOwner)
	require.NoError(t, err)
	assert.Equal(t, models.RoleGrantOwner, resp.Role)
}

func TestValidateTokenRejectsForeignIssuerAndSecret(t *testing.T) {
	svc, _ := newAuthFixture(t)
	claims := &models.WalletClaims{
		Address: "0xabc",
		Role:    models.RoleStudent,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))

	claims.Issuer = "scholarflow-api"
	token, err = jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong"))
	require.NoError(t, err)
	_, err = svc.ValidateToken(token)
	assert.True(t, errors.Is(err, appErrors.ErrUnauthorized))
}

func TestDisconnectClearsSession(t *testing.T) {
	svc, sessions := newAuthFixture(t)
	w := newTestWallet(t)
	_, err := signIn(t, svc, w, "")
	require.NoError(t, err)

	svc.Disconnect(context.Background(), w.address)
	assert.False(t, sessions.Connected(w.address))
}
