// Copyright 2025 SAP SE
// SPDX-License-Identifier: Apache-2.0

package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/slopbox/slopbox/internal/db"
)

type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// Account owning agents and VPSes. A user with no plan cannot provision
// VPSes nor use the forward proxy.
type User struct {
	ID        string     `json:"id" db:"id,primarykey"`
	Email     string     `json:"email" db:"email"`
	Name      *string    `json:"name" db:"name"`
	Role      UserRole   `json:"role" db:"role"`
	Status    UserStatus `json:"status" db:"status"`
	PlanID    *string    `json:"plan_id" db:"plan_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// Table in which the users are stored.
func (User) TableName() string { return "users" }

// Insert a new user in pending status with a generated id.
func InsertUser(d db.DB, email string, name *string) (User, error) {
	now := time.Now().UTC()
	user := User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Role:      UserRoleUser,
		Status:    UserStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.Insert(&user); err != nil {
		return User{}, err
	}
	return user, nil
}

func GetUserByID(d db.DB, id string) (User, error) {
	var user User
	err := d.SelectOne(&user, "SELECT * FROM users WHERE id = :id", map[string]any{"id": id})
	return user, err
}

func ListUsers(d db.DB) ([]User, error) {
	var users []User
	_, err := d.Select(&users, "SELECT * FROM users ORDER BY created_at")
	return users, err
}

func SetUserPlan(d db.DB, userID string, planID *string) error {
	_, err := d.Exec(
		"UPDATE users SET plan_id = :plan_id, updated_at = :now WHERE id = :id",
		map[string]any{"plan_id": planID, "now": time.Now().UTC(), "id": userID},
	)
	return err
}

func SetUserStatus(d db.DB, userID string, status UserStatus) error {
	_, err := d.Exec(
		"UPDATE users SET status = :status, updated_at = :now WHERE id = :id",
		map[string]any{"status": status, "now": time.Now().UTC(), "id": userID},
	)
	return err
}

func SetUserRole(d db.DB, userID string, role UserRole) error {
	_, err := d.Exec(
		"UPDATE users SET role = :role, updated_at = :now WHERE id = :id",
		map[string]any{"role": role, "now": time.Now().UTC(), "id": userID},
	)
	return err
}
