package model

import "time"

const (
	SlotBreakfast = "breakfast"
	SlotLunch     = "lunch"
	SlotDinner    = "dinner"
	SlotSnack     = "snack"
)

type MealEntry struct {
	ID         int64     `json:"id"`
	SpaceID    int64     `json:"space_id"`
	PlanDate   string    `json:"plan_date"`
	Slot       string    `json:"slot"`
	Title      string    `json:"title"`
	Notes      string    `json:"notes"`
	AssignedTo *int64    `json:"assigned_to"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}
