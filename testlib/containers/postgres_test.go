// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

func TestPostgresContainer_Init(t *testing.T) {
	if os.Getenv("POSTGRES_CONTAINER") != "1" {
		t.Skip("skipping test; set POSTGRES_CONTAINER=1 to run")
	}

	container := PostgresContainer{}
	container.Init(t)
	defer container.Close()

	db, err := sql.Open("postgres", container.DSN())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
}

func TestPostgresContainer_Close(t *testing.T) {
	if os.Getenv("POSTGRES_CONTAINER") != "1" {
		t.Skip("skipping test; set POSTGRES_CONTAINER=1 to run")
	}

	container := PostgresContainer{}
	container.Init(t)

	db, err := sql.Open("postgres", container.DSN())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer db.Close()

	container.Close()

	if err := db.Ping(); err == nil {
		t.Fatal("expected error, got nil")
	}
}
