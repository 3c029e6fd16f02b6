// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package env

import (
	"log"
	"os"
	"strconv"
	"strings"
)

// Getenv returns the value of the environment variable, or the fallback
// if the variable is unset or empty.
func Getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

// GetenvInt returns the integer value of the environment variable, or the
// fallback if the variable is unset or empty.
func GetenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("environment variable %s is not an integer: %s", key, value)
	}
	return parsed
}

// GetenvList returns the comma-separated values of the environment variable,
// with surrounding whitespace trimmed and empty entries dropped.
func GetenvList(key string) []string {
	var values []string
	for _, value := range strings.Split(os.Getenv(key), ",") {
		if value = strings.TrimSpace(value); value != "" {
			values = append(values, value)
		}
	}
	return values
}
