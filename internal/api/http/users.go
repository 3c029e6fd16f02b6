// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"

	"github.com/slopbox/slopbox/internal/api"
	"github.com/slopbox/slopbox/internal/models"
)

// The authenticated user's own profile with the plan embedded. A
// dangling plan reference renders as a planless profile.
func (a *httpAPI) getMe(w http.ResponseWriter, r *http.Request) error {
	user, err := requestUser(r)
	if err != nil {
		return err
	}
	var plan *models.Plan
	if user.PlanID != nil {
		if p, err := models.GetPlanByID(a.db, *user.PlanID); err == nil {
			plan = &p
		}
	}
	api.WriteJSON(w, http.StatusOK, api.NewUserResponse(user, plan))
	return nil
}

// The plan catalog, readable by any authenticated user.
func (a *httpAPI) listPlans(w http.ResponseWriter, r *http.Request) error {
	plans, err := models.ListPlans(a.db)
	if err != nil {
		return err
	}
	responses := make([]api.PlanResponse, 0, len(plans))
	for _, plan := range plans {
		responses = append(responses, api.NewPlanResponse(plan))
	}
	api.WriteJSON(w, http.StatusOK, responses)
	return nil
}
