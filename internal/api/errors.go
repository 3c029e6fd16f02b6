// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package api holds the request and response types of the control plane
// api together with its error taxonomy. Handlers live in the http
// subpackage; lifecycle and gateway code return these errors directly.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/slopbox/slopbox/internal/db"
)

// Client-visible api error with a fixed http status code. The message
// is rendered verbatim into the json error body.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func NotFound() *Error {
	return &Error{Status: http.StatusNotFound, Message: "not found"}
}

func Unauthorized() *Error {
	return &Error{Status: http.StatusUnauthorized, Message: "unauthorized"}
}

func Forbidden(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Message: "forbidden: " + msg}
}

func Conflict(msg string) *Error {
	return &Error{Status: http.StatusConflict, Message: "conflict: " + msg}
}

// Resource limit violations share the forbidden status but carry the
// plain message, so clients can show it to the user as-is.
func LimitExceeded(msg string) *Error {
	return &Error{Status: http.StatusForbidden, Message: msg}
}

func BadRequest(msg string) *Error {
	return &Error{Status: http.StatusBadRequest, Message: msg}
}

func Internal(msg string) *Error {
	return &Error{Status: http.StatusInternalServerError, Message: "internal error: " + msg}
}

// Wrap a provider or gateway failure as a bad gateway response.
func Infra(err error) *Error {
	return &Error{Status: http.StatusBadGateway, Message: "infra error: " + err.Error()}
}

// Wrap a storage error, mapping missing rows to a not found response.
func Database(err error) *Error {
	status := http.StatusInternalServerError
	if db.IsErrNoRows(err) {
		status = http.StatusNotFound
	}
	return &Error{Status: status, Message: "database error: " + err.Error()}
}

// Coerce any error into an api error. Errors without an explicit
// taxonomy are treated as storage failures, since those are the only
// ones handlers bubble up unwrapped.
func AsError(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Database(err)
}

// Write a json response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Write err as a json error body of the form {"error": "..."}.
func WriteError(w http.ResponseWriter, err error) {
	apiErr := AsError(err)
	WriteJSON(w, apiErr.Status, map[string]string{"error": apiErr.Message})
}
