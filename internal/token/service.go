// Copyright 2026 The JeMa Authors
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

// Package token issues and verifies API bearer tokens. The subject is the
// account id, which the identity resolver treats as the principal.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken  = errors.New("invalid bearer token")
	ErrSecretMissing = errors.New("token secret must be at least 32 bytes")
)

// Claims are the registered claims carried by a bearer token
type Claims struct {
	Login string `json:"login,omitempty"`
	jwt.RegisteredClaims
}

// Service signs and verifies HS256 bearer tokens
type Service struct {
	issuer string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewService creates a token service
func NewService(issuer, secret string, ttl time.Duration) (*Service, error) {
	if len(secret) < 32 {
		return nil, ErrSecretMissing
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		issuer: issuer,
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// Issue returns a signed token for the account
func (s *Service) Issue(accountID int64, login string) (string, time.Time, error) {
	now := s.now()
	expires := now.Add(s.ttl)

	claims := Claims{
		Login: login,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatInt(accountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Verify checks the signature, issuer and lifetime and returns the
// principal (account id as a string)
func (s *Service) Verify(raw string) (string, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if _, err := strconv.ParseInt(claims.Subject, 10, 64); err != nil {
		return "", fmt.Errorf("%w: subject is not an account id", ErrInvalidToken)
	}
	return claims.Subject, nil
}
