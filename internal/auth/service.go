// Package auth handles player accounts and the tokens that prove a
// player's identity on game messages.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUserExists         = errors.New("username already taken")
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidUser        = errors.New("username, email and password are required")
)

// User is a stored account.
type User struct {
	Username     string
	Email        string
	PasswordHash string
	PhotoURL     string
	CreatedAt    time.Time
}

// UserStore persists accounts. CreateUser returns ErrUserExists on a
// duplicate username and GetUser returns ErrUserNotFound on a miss.
type UserStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, username string) (User, error)
}

// Service registers players, logs them in and renews their tokens.
type Service struct {
	users  UserStore
	tokens *Tokens
	log    *zap.Logger
	cost   int
}

func NewService(users UserStore, tokens *Tokens, log *zap.Logger) *Service {
	return &Service{users: users, tokens: tokens, log: log, cost: bcrypt.DefaultCost}
}

// ValidateSignUp reports ErrInvalidUser when a required field is blank.
func ValidateSignUp(username, email, password string) error {
	if strings.TrimSpace(username) == "" || strings.TrimSpace(email) == "" || password == "" {
		return ErrInvalidUser
	}
	return nil
}

// SignUp creates an account. photoURL may be empty.
func (s *Service) SignUp(ctx context.Context, username, email, password, photoURL string) error {
	if err := ValidateSignUp(username, email, password); err != nil {
		return err
	}
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	err = s.users.CreateUser(ctx, User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		PhotoURL:     photoURL,
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("create user %s: %w", username, err)
	}
	s.log.Info("user registered", zap.String("username", username))
	return nil
}

// Login checks the password and returns a token pair plus the photo URL.
func (s *Service) Login(ctx context.Context, username, password string) (Pair, string, error) {
	u, err := s.users.GetUser(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return Pair{}, "", ErrInvalidCredentials
	}
	if err != nil {
		return Pair{}, "", fmt.Errorf("load user %s: %w", username, err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Pair{}, "", ErrInvalidCredentials
	}

	pair, err := s.tokens.Issue(u.Username)
	if err != nil {
		return Pair{}, "", err
	}
	return pair, u.PhotoURL, nil
}

// Refresh exchanges a refresh token for a new pair.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Pair, error) {
	sub, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return Pair{}, err
	}
	if _, err := s.users.GetUser(ctx, sub); err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return Pair{}, ErrInvalidToken
		}
		return Pair{}, fmt.Errorf("load user %s: %w", sub, err)
	}
	return s.tokens.Issue(sub)
}

// Verify returns the identity an access token was issued to.
func (s *Service) Verify(_ context.Context, token string) (string, error) {
	sub, _, err := s.tokens.VerifyAccess(token)
	return sub, err
}
