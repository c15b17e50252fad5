package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role is the capacity a wallet acts in.
type Role string

const (
	RoleStudent    Role = "student"
	RoleGrantOwner Role = "grant_owner"
	RoleAdmin      Role = "admin"
)

// SignatureScheme names the wallet key algorithm.
type SignatureScheme string

const (
	SchemeEd25519   SignatureScheme = "ed25519"
	SchemeSecp256r1 SignatureScheme = "secp256r1"
)

// Challenge is a single-use sign-in message bound to an address.
type Challenge struct {
	Address   string          `json:"address"`
	PublicKey string          `json:"public_key"`
	Scheme    SignatureScheme `json:"scheme"`
	Nonce     string          `json:"nonce"`
	Message   string          `json:"message"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// ChallengeRequest asks for a sign-in challenge.
type ChallengeRequest struct {
	Address   string          `json:"address" validate:"required,max=128"`
	PublicKey string          `json:"public_key" validate:"required,hexadecimal"`
	Scheme    SignatureScheme `json:"scheme" validate:"required,oneof=ed25519 secp256r1"`
}

// ConnectRequest completes sign-in with a signed challenge.
type ConnectRequest struct {
	Address       string `json:"address" validate:"required,max=128"`
	Signature     string `json:"signature" validate:"required,hexadecimal"`
	RequestedRole Role   `json:"requested_role,omitempty" validate:"omitempty,oneof=student grant_owner admin"`
}

// ConnectResponse returns the issued session token.
type ConnectResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresIn   int64     `json:"expires_in"`
	Address     string    `json:"address"`
	Role        Role      `json:"role"`
	IssuedAt    time.Time `json:"issued_at"`
}

// WalletClaims represents the JWT payload for wallet sessions.
type WalletClaims struct {
	Address string `json:"address"`
	Role    Role   `json:"role"`
	jwt.RegisteredClaims
}
