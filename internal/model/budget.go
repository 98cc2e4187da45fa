package model

import "time"

type BudgetCategory struct {
	ID                int64     `json:"id"`
	SpaceID           int64     `json:"space_id"`
	Name              string    `json:"name"`
	MonthlyLimitCents int64     `json:"monthly_limit_cents"`
	SortOrder         int       `json:"sort_order"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Expense struct {
	ID          int64     `json:"id"`
	SpaceID     int64     `json:"space_id"`
	CategoryID  *int64    `json:"category_id"`
	VendorID    *int64    `json:"vendor_id"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Note        string    `json:"note"`
	SpentAt     time.Time `json:"spent_at"`
	CreatedBy   *int64    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Vendor struct {
	ID        int64     `json:"id"`
	SpaceID   int64     `json:"space_id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Contact   string    `json:"contact"`
	Notes     string    `json:"notes"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CategorySpend is one row of the monthly budget summary: spend against
// the category's limit for a single month.
type CategorySpend struct {
	CategoryID        int64  `json:"category_id"`
	CategoryName      string `json:"category_name"`
	MonthlyLimitCents int64  `json:"monthly_limit_cents"`
	SpentCents        int64  `json:"spent_cents"`
	ExpenseCount      int    `json:"expense_count"`
}

// CategorySuggestion is a guessed category for free-form expense text.
// CategoryID is nil when the space has no category by that name.
type CategorySuggestion struct {
	Category   string `json:"category"`
	CategoryID *int64 `json:"category_id"`
}
