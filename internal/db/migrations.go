// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package db

import (
	"embed"
	"log/slog"
	"sort"
	"time"
)

// Migration files that should be executed before services are started.
//
//go:embed migrations/*.sql
var migrationFiles embed.FS

// Bookkeeping model recording which migration files were already executed.
type Migration struct {
	Name       string    `db:"name,primarykey"`
	ExecutedAt time.Time `db:"executed_at"`
}

// Table under which the executed migrations are tracked.
func (Migration) TableName() string { return "migrations" }

type Migrater interface {
	Migrate(force bool)
}

type migrater struct {
	migrations map[string]string
	db         DB
}

// Create a new migrater with files embedded in the binary.
func NewMigrater(db DB) Migrater {
	// Read the embedded migration files.
	migrations := map[string]string{}
	files, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		panic(err)
	}
	for _, file := range files {
		if file.IsDir() {
			panic("migrations directory contains a directory")
		}
		content, err := migrationFiles.ReadFile("migrations/" + file.Name())
		if err != nil {
			panic(err)
		}
		migrations[file.Name()] = string(content)
	}
	return &migrater{db: db, migrations: migrations}
}

// Run all migrations ordered by their file name. Migrations that already
// ran are skipped, unless force is set.
func (m *migrater) Migrate(force bool) {
	if err := m.db.CreateTable(m.db.AddTable(Migration{})); err != nil {
		panic(err)
	}
	executed := map[string]bool{}
	if !force {
		var names []string
		if _, err := m.db.Select(&names, "SELECT name FROM migrations"); err != nil {
			panic(err)
		}
		for _, name := range names {
			executed[name] = true
		}
	}
	migrationFileNames := make([]string, 0, len(m.migrations))
	for name := range m.migrations {
		migrationFileNames = append(migrationFileNames, name)
	}
	sort.Strings(migrationFileNames)
	for _, name := range migrationFileNames {
		if executed[name] {
			slog.Info("skipping migration", "name", name)
			continue
		}
		migration := m.migrations[name]
		slog.Info("executing migration", "name", name)
		if _, err := m.db.Exec(migration); err != nil {
			panic(err)
		}
		if err := m.db.Insert(&Migration{Name: name, ExecutedAt: time.Now()}); err != nil {
			panic(err)
		}
	}
	slog.Info("migrations executed")
}
