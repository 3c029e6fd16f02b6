// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package testlib

import (
	"database/sql"
	"log"
	"os"
	"testing"

	"github.com/go-gorp/gorp"
	_ "github.com/mattn/go-sqlite3"
)

// Open a throwaway sqlite database in the test's temp dir and return a
// bare gorp mapper for it. Returning the mapper instead of a wrapped db
// keeps this helper free of imports on the packages it is used to test.
func NewSqliteDbMap(t *testing.T) *gorp.DbMap {
	sqlDB, err := sql.Open("sqlite3", t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	dbMap := &gorp.DbMap{Db: sqlDB, Dialect: gorp.SqliteDialect{}}
	dbMap.TraceOn("[gorp]", log.New(os.Stdout, "slopbox:", log.Lmicroseconds))
	return dbMap
}
