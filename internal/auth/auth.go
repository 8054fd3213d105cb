package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/spotex/internal/apperror"
	"github.com/xtrntr/spotex/internal/logger"
	"github.com/xtrntr/spotex/internal/models"
	"github.com/xtrntr/spotex/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	maxUsernameLen = 50
	maxPasswordLen = 72 // bcrypt ignores anything longer
)

// Options configures token signing and new account balances
type Options struct {
	Secret      string
	TokenTTL    time.Duration
	StartingBTC decimal.Decimal
	StartingUSD decimal.Decimal
}

// AuthService handles user registration and session tokens
type AuthService struct {
	db   store.Store
	opts Options
	log  logger.Interface
	now  func() time.Time
}

// NewAuthService creates a new auth service
func NewAuthService(db store.Store, opts Options, log logger.Interface) *AuthService {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	return &AuthService{db: db, opts: opts, log: log, now: time.Now}
}

// Register creates a user with a hashed password and the starting balances
func (s *AuthService) Register(ctx context.Context, username, password string) (*models.User, error) {
	switch {
	case username == "" || password == "":
		return nil, apperror.New(apperror.ValidationError, "username and password required")
	case len(username) > maxUsernameLen:
		return nil, apperror.New(apperror.ValidationError, fmt.Sprintf("username too long (max %d characters)", maxUsernameLen))
	case len(password) > maxPasswordLen:
		return nil, apperror.New(apperror.ValidationError, fmt.Sprintf("password too long (max %d characters)", maxPasswordLen))
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperror.Wrap(apperror.Internal, "failed to hash password", err)
	}

	u := &models.User{
		Username:     username,
		PasswordHash: string(hashed),
		BTCAvailable: s.opts.StartingBTC,
		BTCOnHold:    decimal.Zero,
		USDAvailable: s.opts.StartingUSD,
		USDOnHold:    decimal.Zero,
	}
	if err := s.db.CreateUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, apperror.New(apperror.Conflict, "username already taken")
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "user registered",
		logger.NewField("user_id", u.ID),
		logger.NewField("username", u.Username))
	return u, nil
}

// Login verifies credentials and returns a signed JWT
func (s *AuthService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.db.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", apperror.New(apperror.Unauthorized, "invalid credentials")
		}
		return "", err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", apperror.New(apperror.Unauthorized, "invalid credentials")
	}
	return s.Token(user)
}

// Token signs a session token for user
func (s *AuthService) Token(user *models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      s.now().Add(s.opts.TokenTTL).Unix(),
	})
	signed, err := token.SignedString([]byte(s.opts.Secret))
	if err != nil {
		return "", apperror.Wrap(apperror.Internal, "failed to sign token", err)
	}
	return signed, nil
}

// GetUserFromToken extracts the user id from a valid JWT
func (s *AuthService) GetUserFromToken(tokenString string) (int, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(s.opts.Secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return 0, apperror.Wrap(apperror.Unauthorized, "invalid or expired token", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return 0, apperror.New(apperror.Unauthorized, "invalid or expired token")
	}
	userID, ok := claims["user_id"].(float64)
	if !ok {
		return 0, apperror.New(apperror.Unauthorized, "token has no user")
	}
	return int(userID), nil
}
