// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"testing"
)

func TestGetCurrentBudgetMissingRowIsZero(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	budget, err := GetCurrentBudget(d, "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if budget.BudgetCents != 0 {
		t.Errorf("expected 0 cents, got %d", budget.BudgetCents)
	}
	if budget.UserID != "user-1" {
		t.Errorf("expected user id to be set, got %s", budget.UserID)
	}
}

func TestSetBudget(t *testing.T) {
	d, closeDB := setupDB(t)
	defer closeDB()

	budget, err := SetBudget(d, "user-1", 500)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if budget.BudgetCents != 500 {
		t.Errorf("expected 500 cents, got %d", budget.BudgetCents)
	}

	// Setting again replaces the value instead of adding to it.
	budget, err = SetBudget(d, "user-1", 100)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if budget.BudgetCents != 100 {
		t.Errorf("expected 100 cents, got %d", budget.BudgetCents)
	}

	got, err := GetCurrentBudget(d, "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.BudgetCents != 100 {
		t.Errorf("expected 100 cents, got %d", got.BudgetCents)
	}
}
