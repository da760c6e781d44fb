package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teledrive-go/internal/config"
	"teledrive-go/pkg/hash"
	"teledrive-go/pkg/token"
)

func TestAuthService_LoginAndShare(t *testing.T) {
	pw, err := hash.HashPassword("s3cret")
	require.NoError(t, err)
	jwtManager := token.NewJWTManager("secret", 1, 24)
	svc := NewAuthService(config.AdminConfig{Username: "admin", PasswordHash: pw}, jwtManager)

	_, err = svc.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	signed, err := svc.Login("admin", "s3cret")
	require.NoError(t, err)
	_, err = jwtManager.VerifyToken(signed, token.PurposeAdmin)
	require.NoError(t, err)

	link, err := svc.Share("abc123def456", 0)
	require.NoError(t, err)
	id, err := svc.ResolveShare(link.Token)
	require.NoError(t, err)
	assert.Equal(t, "abc123def456", id)

	_, err = svc.ResolveShare(signed)
	assert.ErrorIs(t, err, token.ErrWrongPurpose)
}

func TestAuthService_NoAdminConfigured(t *testing.T) {
	svc := NewAuthService(config.AdminConfig{}, token.NewJWTManager("secret", 1, 24))
	_, err := svc.Login("", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}
