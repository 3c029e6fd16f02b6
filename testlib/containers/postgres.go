// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package containers

import (
	"database/sql"
	"fmt"
	"log"
	"testing"

	"github.com/ory/dockertest"
	"github.com/ory/dockertest/docker"
)

// Throwaway postgres instance for tests that need the real dialect
// instead of sqlite, one container per test.
type PostgresContainer struct {
	pool     *dockertest.Pool
	resource *dockertest.Resource
}

func (c PostgresContainer) GetPort() string {
	return c.resource.GetPort("5432/tcp")
}

// Connection string for the slopbox database inside the container.
func (c PostgresContainer) DSN() string {
	return fmt.Sprintf(
		"host=localhost port=%s user=postgres password=secret dbname=slopbox sslmode=disable",
		c.GetPort(),
	)
}

func (c *PostgresContainer) Init(t *testing.T) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		log.Fatalf("could not construct pool: %s", err)
	}
	c.pool = pool
	if err = pool.Client.Ping(); err != nil {
		log.Fatalf("could not connect to Docker: %s", err)
	}
	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "17",
		Env: []string{
			"POSTGRES_USER=postgres",
			"POSTGRES_PASSWORD=secret",
			"POSTGRES_DB=slopbox",
			"listen_addresses = '*'",
		},
	}, func(config *docker.HostConfig) {
		// set AutoRemove to true so that stopped container goes away by itself
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{
			Name: "no",
		}
	})
	if err != nil {
		log.Fatalf("could not start resource: %s", err)
	}
	c.resource = resource
	// Leak guard: the container kills itself even if Close is never
	// reached, sized to outlive the slowest suite using it.
	if err := c.resource.Expire(120); err != nil {
		log.Fatalf("could not set expiration: %s", err)
	}
	sqlDB, err := sql.Open("postgres", c.DSN())
	if err != nil {
		log.Fatalf("could not connect to sql db: %s", err)
	}
	defer sqlDB.Close()
	if err = pool.Retry(sqlDB.Ping); err != nil {
		log.Fatalf("postgres db is not ready in time: %s", err)
	}
}

func (c *PostgresContainer) Close() {
	if err := c.pool.Purge(c.resource); err != nil {
		log.Fatalf("could not purge resource: %s", err)
	}
}
