// Package domain contains core domain types for the ClawNest control panel.
package domain

import (
	"time"
)

// Plan is a billing tier that bounds how many agents a user may host.
type Plan string

const (
	PlanStarter Plan = "Starter"
	PlanPro     Plan = "Pro"
)

// MaxAgents returns the number of agents the plan allows.
func (p Plan) MaxAgents() int {
	if p == PlanPro {
		return 10
	}
	return 1
}

// User represents an account holder on the platform.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Plan         Plan      `json:"plan"`
	CreatedAt    time.Time `json:"created_at"`
}

// EffectivePlan returns the user's plan, defaulting to Starter.
func (u *User) EffectivePlan() Plan {
	if u.Plan == "" {
		return PlanStarter
	}
	return u.Plan
}
