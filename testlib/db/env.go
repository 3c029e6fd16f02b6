// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"log"
	"log/slog"
	"os"
	"testing"

	"github.com/slopbox/slopbox/internal/conf"
	"github.com/slopbox/slopbox/internal/db"
	"github.com/slopbox/slopbox/testlib"
	"github.com/slopbox/slopbox/testlib/containers"
)

type DBEnv struct {
	*db.DB
	Close func()
}

func SetupDBEnv(t *testing.T) DBEnv {
	var env DBEnv
	// To run tests faster, the default is running with sqlite.
	if os.Getenv("POSTGRES_CONTAINER") == "1" {
		slog.Info("Using real postgres container")
		container := containers.PostgresContainer{}
		container.Init(t)
		db := db.NewPostgresDB(conf.DBConfig{
			Host:     "localhost",
			Port:     container.GetPort(),
			User:     "postgres",
			Password: "secret",
			Database: "slopbox",
		}, db.Monitor{})
		db.DbMap.TraceOn("[gorp]", log.New(os.Stdout, "slopbox:", log.Lmicroseconds))
		env.DB = &db
		env.Close = func() {
			env.DB.Close()
			container.Close()
		}
	} else {
		slog.Info("Using sqlite")
		env.DB = &db.DB{DbMap: testlib.NewSqliteDbMap(t)}
		env.Close = func() {
			env.DB.Close()
		}
	}
	return env
}
