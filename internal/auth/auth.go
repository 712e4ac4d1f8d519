// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth registers requesters and issues the bearer tokens that
// attribute incident requests to them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/irhub/inbound/internal/models"
	"github.com/irhub/inbound/internal/store"
)

var (
	ErrInvalidCredentials = errors.New("invalid handle or password")
	ErrHandleTaken        = errors.New("handle already exists")
	ErrInvalidInput       = errors.New("handle and password are required")
	ErrTokenInvalid       = errors.New("token is invalid or expired")
)

// DefaultTokenExpiry is used when Config.TokenExpiry is zero.
const DefaultTokenExpiry = 24 * time.Hour

// Users is the requester storage used by the service.
type Users interface {
	CreateRequester(ctx context.Context, r *models.Requester) error
	RequesterByHandle(ctx context.Context, handle string) (*models.Requester, error)
}

// Config configures token signing.
type Config struct {
	Secret      string
	TokenExpiry time.Duration
}

// Service handles registration, login and token validation.
type Service struct {
	users  Users
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewService creates an auth service. An empty secret is rejected.
func NewService(users Users, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth secret is required")
	}
	expiry := cfg.TokenExpiry
	if expiry <= 0 {
		expiry = DefaultTokenExpiry
	}
	return &Service{
		users:  users,
		secret: []byte(cfg.Secret),
		expiry: expiry,
		now:    time.Now,
	}, nil
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// CheckPasswordHash reports whether password matches hash.
func CheckPasswordHash(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Register creates a requester.
func (s *Service) Register(ctx context.Context, handle, password, email string) (*models.Requester, error) {
	handle = strings.TrimSpace(handle)
	if handle == "" || password == "" {
		return nil, ErrInvalidInput
	}

	existing, err := s.users.RequesterByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("look up handle: %w", err)
	}
	if existing != nil {
		return nil, ErrHandleTaken
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	r := &models.Requester{
		Handle:       handle,
		PasswordHash: hash,
		Email:        strings.TrimSpace(email),
	}
	if err := s.users.CreateRequester(ctx, r); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, ErrHandleTaken
		}
		return nil, fmt.Errorf("create requester: %w", err)
	}
	return r, nil
}

// Login verifies the password and returns a signed access token.
func (s *Service) Login(ctx context.Context, handle, password string) (string, error) {
	r, err := s.users.RequesterByHandle(ctx, strings.TrimSpace(handle))
	if err != nil {
		return "", fmt.Errorf("look up handle: %w", err)
	}
	if r == nil || !CheckPasswordHash(password, r.PasswordHash) {
		return "", ErrInvalidCredentials
	}
	return s.IssueToken(r.Handle)
}

// IssueToken signs an HS256 token whose subject is handle.
func (s *Service) IssueToken(handle string) (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   handle,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return token, nil
}

// ParseToken validates a token and returns its subject.
func (s *Service) ParseToken(tokenString string) (string, error) {
	var claims jwt.RegisteredClaims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrTokenInvalid
	}
	return claims.Subject, nil
}

// Authenticate resolves a token to its requester.
func (s *Service) Authenticate(ctx context.Context, tokenString string) (*models.Requester, error) {
	handle, err := s.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	r, err := s.users.RequesterByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("look up handle: %w", err)
	}
	if r == nil {
		return nil, ErrTokenInvalid
	}
	return r, nil
}
