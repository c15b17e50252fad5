package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/scholarflow-api/internal/authz"
	"github.com/noah-isme/scholarflow-api/internal/models"
	"github.com/noah-isme/scholarflow-api/internal/wallet"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

// ChallengeStore keeps outstanding sign-in challenges. Consume must be single use.
type ChallengeStore interface {
	Save(ctx context.Context, challenge models.Challenge) error
	Consume(ctx context.Context, address string) (*models.Challenge, error)
}

// AuthConfig defines token and challenge settings.
type AuthConfig struct {
	AccessTokenSecret string
	AccessTokenExpiry time.Duration
	ChallengeTTL      time.Duration
	Issuer            string
}

// AuthService implements wallet sign-in: challenge, signature check, role resolution and session tokens.
type AuthService struct {
	challenges ChallengeStore
	verifier   *wallet.Registry
	authority  *authz.Authority
	sessions   *SessionService
	validator  *validator.Validate
	logger     *zap.Logger
	config     AuthConfig
	now        func() time.Time
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(challenges ChallengeStore, verifier *wallet.Registry, authority *authz.Authority, sessions *SessionService, validate *validator.Validate, logger *zap.Logger, config AuthConfig) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if verifier == nil {
		verifier = wallet.NewRegistry()
	}
	if config.ChallengeTTL <= 0 {
		config.ChallengeTTL = 5 * time.Minute
	}
	if config.AccessTokenExpiry <= 0 {
		config.AccessTokenExpiry = 24 * time.Hour
	}
	if config.Issuer == "" {
		config.Issuer = "scholarflow-api"
	}
	return &AuthService{
		challenges: challenges,
		verifier:   verifier,
		authority:  authority,
		sessions:   sessions,
		validator:  validate,
		logger:     logger,
		config:     config,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Challenge issues a single-use sign-in message for the address.
func (s *AuthService) Challenge(ctx context.Context, req models.ChallengeRequest) (*models.Challenge, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid challenge payload")
	}
	address := wallet.NormalizeAddress(req.Address)
	derived, err := s.verifier.ResolveAddress(req.Scheme, req.PublicKey)
	if err != nil {
		return nil, signatureError(err)
	}
	if wallet.NormalizeAddress(derived) != address {
		return nil, appErrors.Clone(appErrors.ErrInvalidSignature, "public key does not control address")
	}

	nonce, err := randomNonce()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate nonce")
	}
	issued := s.now()
	challenge := models.Challenge{
		Address:   address,
		PublicKey: req.PublicKey,
		Scheme:    req.Scheme,
		Nonce:     nonce,
		Message:   fmt.Sprintf("ScholarFlow sign-in\naddress: %s\nnonce: %s\nissued: %s", address, nonce, issued.Format(time.RFC3339)),
		IssuedAt:  issued,
		ExpiresAt: issued.Add(s.config.ChallengeTTL),
	}
	if err := s.challenges.Save(ctx, challenge); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store challenge")
	}
	return &challenge, nil
}

// Connect redeems a signed challenge, resolves the role, issues a token and opens the session.
func (s *AuthService) Connect(ctx context.Context, req models.ConnectRequest) (*models.ConnectResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid connect payload")
	}
	address := wallet.NormalizeAddress(req.Address)

	challenge, err := s.challenges.Consume(ctx, address)
	if err != nil {
		if errors.Is(err, appErrors.ErrChallengeExpired) {
			return nil, err
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load challenge")
	}
	if err := s.verifier.VerifyOwnership(challenge.Scheme, address, challenge.PublicKey, []byte(challenge.Message), req.Signature); err != nil {
		s.logger.Warn("wallet signature rejected", zap.String("address", address), zap.Error(err))
		return nil, signatureError(err)
	}

	role, err := s.authority.Resolve(address, req.RequestedRole)
	if err != nil {
		return nil, err
	}

	token, issuedAt, expiresAt, err := s.generateAccessToken(address, role)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate token")
	}
	s.sessions.Connect(ctx, address, role)
	s.logger.Info("wallet connected", zap.String("address", address), zap.String("role", string(role)))

	return &models.ConnectResponse{
		AccessToken: token,
		ExpiresIn:   int64(expiresAt.Sub(issuedAt).Seconds()),
		Address:     address,
		Role:        role,
		IssuedAt:    issuedAt,
	}, nil
}

// Disconnect clears the caller's session. Outstanding tokens stop working for mutations.
func (s *AuthService) Disconnect(_ context.Context, address string) {
	s.sessions.Disconnect(address)
}

// ValidateToken parses and verifies a wallet session token.
func (s *AuthService) ValidateToken(tokenString string) (*models.WalletClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.WalletClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.AccessTokenSecret), nil
	}, jwt.WithIssuer(s.config.Issuer))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrUnauthorized.Code, appErrors.ErrUnauthorized.Status, "invalid token")
	}

	claims, ok := token.Claims.(*models.WalletClaims)
	if !ok || !token.Valid || claims.Address == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid token claims")
	}
	return claims, nil
}

// Authorize turns verified claims into a capability, re-checking the role registry.
func (s *AuthService) Authorize(claims *models.WalletClaims) (*authz.Capability, error) {
	return s.authority.Issue(claims)
}

func (s *AuthService) generateAccessToken(address string, role models.Role) (string, time.Time, time.Time, error) {
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.config.AccessTokenExpiry)
	claims := &models.WalletClaims{
		Address: address,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    s.config.Issuer,
			Subject:   address,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.config.AccessTokenSecret))
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	return signed, issuedAt, expiresAt, nil
}

func signatureError(err error) error {
	if errors.Is(err, wallet.ErrUnsupportedScheme) {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "unsupported signature scheme")
	}
	return appErrors.Wrap(err, appErrors.ErrInvalidSignature.Code, appErrors.ErrInvalidSignature.Status, appErrors.ErrInvalidSignature.Message)
}

func randomNonce() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
