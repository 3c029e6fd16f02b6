// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package auth implements bearer token authentication for the control
// plane api: HS256 JWTs carrying the user id, request middleware with
// user status and role gates, and the browser cross-origin policy.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/slopbox/slopbox/internal/models"
)

// MintToken signs a token for the given user id, valid for the given
// duration. Identity providers and tests share this shape.
func MintToken(secret, userID string, validity time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// VerifyToken validates a token's signature and expiry and returns the
// user id it was minted for.
func VerifyToken(secret, tokenStr string) (string, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr, &jwt.RegisteredClaims{},
		func(token *jwt.Token) (any, error) { return []byte(secret), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", errors.New("token has no subject")
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

// RequestToken extracts the bearer token, falling back to the token
// query parameter. Browser websocket clients cannot set headers, so the
// gateway accepts the query form as well.
func RequestToken(r *http.Request) (string, bool) {
	if token, ok := BearerToken(r); ok {
		return token, true
	}
	token := r.URL.Query().Get("token")
	return token, token != ""
}

type contextKey int

const userContextKey contextKey = 0

// ContextWithUser attaches the authenticated user to the context.
func ContextWithUser(ctx context.Context, user models.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

// UserFromContext returns the user attached by the middleware.
func UserFromContext(ctx context.Context) (models.User, bool) {
	user, ok := ctx.Value(userContextKey).(models.User)
	return user, ok
}
