package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/scholarflow-api/internal/middleware"
	"github.com/noah-isme/scholarflow-api/internal/models"
	appErrors "github.com/noah-isme/scholarflow-api/pkg/errors"
)

type authServiceStub struct {
	connectErr   error
	disconnected string
}

func (s *authServiceStub) Challenge(_ context.Context, req models.ChallengeRequest) (*models.Challenge, error) {
	return &models.Challenge{Address: req.Address, Nonce: "abc", Message: "sign in abc"}, nil
}

func (s *authServiceStub) Connect(_ context.Context, req models.ConnectRequest) (*models.ConnectResponse, error) {
	if s.connectErr != nil {
		return nil, s.connectErr
	}
	return &models.ConnectResponse{AccessToken: "token", Address: req.Address, Role: models.RoleStudent}, nil
}

func (s *authServiceStub) Disconnect(_ context.Context, address string) {
	s.disconnected = address
}

func TestAuthHandlerChallenge(t *testing.T) {
	h := NewAuthHandler(&authServiceStub{})
	c, w := newTestContext(http.MethodPost, "/auth/challenge", []byte(`{"address":"0xstudent","public_key":"ab","scheme":"ed25519"}`))

	h.Challenge(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sign in abc")
}

func TestAuthHandlerConnectInvalidSignature(t *testing.T) {
	h := NewAuthHandler(&authServiceStub{connectErr: appErrors.ErrInvalidSignature})
	c, w := newTestContext(http.MethodPost, "/auth/connect", []byte(`{"address":"0xstudent","signature":"00"}`))

	h.Connect(c)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_SIGNATURE")
}

func TestAuthHandlerDisconnect(t *testing.T) {
	stub := &authServiceStub{}
	h := NewAuthHandler(stub)
	c, w := newTestContext(http.MethodPost, "/auth/disconnect", nil)
	c.Set(middleware.ContextCapabilityKey, testCapability(t, testStudent, models.RoleStudent))

	h.Disconnect(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, testStudent, stub.disconnected)
}

type sessionReaderStub struct {
	cleared string
}

func (s *sessionReaderStub) State(_ context.Context, address string) (*models.SessionState, error) {
	return &models.SessionState{CurrentAddress: address, IsConnected: true}, nil
}

func (s *sessionReaderStub) ClearError(_ context.Context, address string) error {
	s.cleared = address
	return nil
}

func TestSessionHandlerStateAndClearError(t *testing.T) {
	stub := &sessionReaderStub{}
	h := NewSessionHandler(stub)
	capability := testCapability(t, testStudent, models.RoleStudent)

	c, w := newTestContext(http.MethodGet, "/session", nil)
	c.Set(middleware.ContextCapabilityKey, capability)
	h.State(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), testStudent)

	c, w = newTestContext(http.MethodDelete, "/session/error", nil)
	c.Set(middleware.ContextCapabilityKey, capability)
	h.ClearError(c)
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, testStudent, stub.cleared)
}
