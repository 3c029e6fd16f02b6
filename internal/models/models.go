// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/go-gorp/gorp"

	"github.com/slopbox/slopbox/internal/db"
)

// Register all control plane tables on the given database.
// The returned table maps can be passed to db.CreateTable.
func AddTables(d db.DB) []*gorp.TableMap {
	plans := d.AddTable(Plan{})
	plans.ColMap("name").SetUnique(true)
	configs := d.AddTable(VpsConfig{})
	configs.ColMap("name").SetUnique(true)
	users := d.AddTable(User{})
	users.ColMap("email").SetUnique(true)
	channels := d.AddTable(AgentChannel{})
	channels.SetUniqueTogether("agent_id", "channel_kind")
	return []*gorp.TableMap{
		plans,
		configs,
		d.AddTable(PlanVpsConfig{}),
		users,
		d.AddTable(Agent{}),
		d.AddTable(Vps{}),
		d.AddTable(VpsUsagePeriod{}),
		d.AddTable(OverageBudget{}),
		channels,
	}
}

// First day of the current calendar month in UTC. Usage ledger rows and
// overage budgets are keyed by this value.
func CurrentPeriodStart() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// 32 random bytes, hex-encoded. Used for gateway tokens and webhook secrets.
func randomHexToken() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		panic(err)
	}
	return hex.EncodeToString(bytes)
}
