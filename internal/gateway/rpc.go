// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// IsBlockedMethod reports whether an rpc method may not cross the
// gateway proxy. Config mutation, exec approvals, and updates are
// reserved for the control plane orchestrator.
func IsBlockedMethod(method string) bool {
	return strings.HasPrefix(method, "config.") ||
		strings.HasPrefix(method, "exec.approvals.") ||
		method == "exec.approval.resolve" ||
		method == "update.run"
}

// SignNonce computes the hex HMAC-SHA256 signature of a handshake
// nonce, keyed with the agent's gateway token.
func SignNonce(nonce, token string) string {
	mac := hmac.New(sha256.New, []byte(token))
	mac.Write([]byte(nonce))
	return hex.EncodeToString(mac.Sum(nil))
}
