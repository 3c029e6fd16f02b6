// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/slopbox/slopbox/internal/db"
)

// Per-user monthly overage budget in cents. A missing row means a zero
// budget, so no overage beyond the plan limits is permitted.
type OverageBudget struct {
	UserID      string    `json:"user_id" db:"user_id,primarykey"`
	PeriodStart time.Time `json:"period_start" db:"period_start,primarykey"`
	BudgetCents int64     `json:"budget_cents" db:"budget_cents"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Table in which the overage budgets are stored.
func (OverageBudget) TableName() string { return "overage_budgets" }

// Fetch the current month's overage budget, defaulting to 0 if no row exists.
func GetCurrentBudget(d db.DB, userID string) (OverageBudget, error) {
	var budget OverageBudget
	err := d.SelectOne(&budget, `
		SELECT * FROM overage_budgets
		WHERE user_id = :user_id AND period_start = :period_start`,
		map[string]any{"user_id": userID, "period_start": CurrentPeriodStart()},
	)
	if err == nil {
		return budget, nil
	}
	if db.IsErrNoRows(err) {
		now := time.Now().UTC()
		return OverageBudget{
			UserID:      userID,
			PeriodStart: CurrentPeriodStart(),
			CreatedAt:   now,
			UpdatedAt:   now,
		}, nil
	}
	return OverageBudget{}, err
}

// Upsert the current month's overage budget.
func SetBudget(d db.DB, userID string, budgetCents int64) (OverageBudget, error) {
	now := time.Now().UTC()
	_, err := d.Exec(`
		INSERT INTO overage_budgets (user_id, period_start, budget_cents, created_at, updated_at)
		VALUES (:user_id, :period_start, :budget_cents, :now, :now)
		ON CONFLICT (user_id, period_start)
		DO UPDATE SET budget_cents = EXCLUDED.budget_cents,
		              updated_at = EXCLUDED.updated_at`,
		map[string]any{
			"user_id":      userID,
			"period_start": CurrentPeriodStart(),
			"budget_cents": budgetCents,
			"now":          now,
		},
	)
	if err != nil {
		return OverageBudget{}, err
	}
	return GetCurrentBudget(d, userID)
}
