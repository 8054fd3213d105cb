package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/litedb/litedbtest"
	"github.com/xtrntr/spotex/internal/logger"
	"golang.org/x/crypto/bcrypt"
)

const testSecret = "test-secret"

func newService(t *testing.T) *AuthService {
	t.Helper()
	return NewAuthService(litedbtest.Open(t), Options{
		Secret:      testSecret,
		TokenTTL:    time.Hour,
		StartingBTC: decimal.NewFromInt(100),
		StartingUSD: decimal.NewFromInt(100000),
	}, logger.Nop())
}

func TestAuthService_Register(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		password  string
		duplicate bool
		wantCode  apperror.Code
	}{
		{name: "Success", username: "alice", password: "password123"},
		{name: "EmptyUsername", username: "", password: "password123", wantCode: apperror.ValidationError},
		{name: "EmptyPassword", username: "bob", password: "", wantCode: apperror.ValidationError},
		{name: "DuplicateUsername", username: "alice", password: "newpass", duplicate: true, wantCode: apperror.Conflict},
		{name: "LongUsername", username: strings.Repeat("a", 1000), password: "password123", wantCode: apperror.ValidationError},
		{name: "LongPassword", username: "carol", password: strings.Repeat("p", 73), wantCode: apperror.ValidationError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			s := newService(t)
			if tt.duplicate {
				_, err := s.Register(ctx, tt.username, "password123")
				require.NoError(t, err)
			}

			user, err := s.Register(ctx, tt.username, tt.password)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.username, user.Username)
			assert.True(t, user.BTCAvailable.Equal(decimal.NewFromInt(100)))
			assert.True(t, user.USDAvailable.Equal(decimal.NewFromInt(100000)))
			assert.True(t, user.BTCOnHold.IsZero())
			assert.True(t, user.USDOnHold.IsZero())

			stored, err := s.db.GetUserByUsername(ctx, tt.username)
			require.NoError(t, err)
			assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte(tt.password)))
		})
	}
}

func TestAuthService_Login(t *testing.T) {
	s := newService(t)
	_, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)

	tests := []struct {
		name        string
		username    string
		password    string
		expectError bool
	}{
		{name: "Success", username: "alice", password: "password123"},
		{name: "WrongPassword", username: "alice", password: "wrongpass", expectError: true},
		{name: "NonExistentUser", username: "bob", password: "password123", expectError: true},
		{name: "LongPassword", username: "alice", password: strings.Repeat("p", 1000), expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token, err := s.Login(context.Background(), tt.username, tt.password)
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, apperror.Unauthorized, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)

			parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
				return []byte(testSecret), nil
			})
			require.NoError(t, err)
			claims, ok := parsed.Claims.(jwt.MapClaims)
			require.True(t, ok)
			assert.Equal(t, "alice", claims["username"])
		})
	}
}

func TestAuthService_GetUserFromToken(t *testing.T) {
	s := newService(t)
	user, err := s.Register(context.Background(), "alice", "password123")
	require.NoError(t, err)
	token, err := s.Login(context.Background(), "alice", "password123")
	require.NoError(t, err)

	expiredToken := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  float64(user.ID),
		"username": "alice",
		"exp":      time.Now().Add(-time.Hour).Unix(),
	})
	expiredTokenStr, _ := expiredToken.SignedString([]byte(testSecret))
	invalidToken, _ := expiredToken.SignedString([]byte("wrong-key"))
	noUser, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"username": "alice",
		"exp":      time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))

	tests := []struct {
		name         string
		token        string
		expectUserID int
		expectError  bool
	}{
		{name: "Success", token: token, expectUserID: user.ID},
		{name: "ExpiredToken", token: expiredTokenStr, expectError: true},
		{name: "InvalidSignature", token: invalidToken, expectError: true},
		{name: "MissingUserClaim", token: noUser, expectError: true},
		{name: "EmptyToken", token: "", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			userID, err := s.GetUserFromToken(tt.token)
			if tt.expectError {
				require.Error(t, err)
				assert.Equal(t, apperror.Unauthorized, apperror.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectUserID, userID)
		})
	}
}
