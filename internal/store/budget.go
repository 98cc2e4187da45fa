package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/calebmorrow/hearthside/internal/model"
)

type BudgetStore struct {
	db *sql.DB
}

func NewBudgetStore(db *sql.DB) *BudgetStore {
	return &BudgetStore{db: db}
}

// --- Category methods ---

func scanBudgetCategory(scanner interface{ Scan(...any) error }) (*model.BudgetCategory, error) {
	var c model.BudgetCategory
	err := scanner.Scan(&c.ID, &c.SpaceID, &c.Name, &c.MonthlyLimitCents, &c.SortOrder, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const budgetCategoryCols = `id, space_id, name, monthly_limit_cents, sort_order, created_at, updated_at`

func (s *BudgetStore) CreateCategory(spaceID int64, name string, monthlyLimitCents int64, sortOrder int) (*model.BudgetCategory, error) {
	result, err := s.db.Exec(
		`INSERT INTO budget_categories (space_id, name, monthly_limit_cents, sort_order) VALUES (?, ?, ?, ?)`,
		spaceID, name, monthlyLimitCents, sortOrder,
	)
	if err != nil {
		return nil, fmt.Errorf("insert budget category: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetCategoryByID(spaceID, id)
}

func (s *BudgetStore) GetCategoryByID(spaceID, id int64) (*model.BudgetCategory, error) {
	row := s.db.QueryRow(`SELECT `+budgetCategoryCols+` FROM budget_categories WHERE id = ? AND space_id = ?`, id, spaceID)
	c, err := scanBudgetCategory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get budget category: %w", err)
	}
	return c, nil
}

func (s *BudgetStore) ListCategories(spaceID int64) ([]model.BudgetCategory, error) {
	rows, err := s.db.Query(
		`SELECT `+budgetCategoryCols+` FROM budget_categories WHERE space_id = ? ORDER BY sort_order ASC, name ASC`,
		spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("list budget categories: %w", err)
	}
	defer rows.Close()

	var categories []model.BudgetCategory
	for rows.Next() {
		c, err := scanBudgetCategory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan budget category: %w", err)
		}
		categories = append(categories, *c)
	}
	return categories, rows.Err()
}

func (s *BudgetStore) UpdateCategory(spaceID, id int64, name string, monthlyLimitCents int64, sortOrder int) (*model.BudgetCategory, error) {
	_, err := s.db.Exec(
		`UPDATE budget_categories SET name = ?, monthly_limit_cents = ?, sort_order = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		name, monthlyLimitCents, sortOrder, id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update budget category: %w", err)
	}
	return s.GetCategoryByID(spaceID, id)
}

func (s *BudgetStore) DeleteCategory(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM budget_categories WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete budget category: %w", err)
	}
	return nil
}

// --- Expense methods ---

func scanExpense(scanner interface{ Scan(...any) error }) (*model.Expense, error) {
	var e model.Expense
	var categoryID, vendorID, createdBy sql.NullInt64

	err := scanner.Scan(
		&e.ID, &e.SpaceID, &categoryID, &vendorID, &e.AmountCents, &e.Currency,
		&e.Note, &e.SpentAt, &createdBy, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		e.CategoryID = &categoryID.Int64
	}
	if vendorID.Valid {
		e.VendorID = &vendorID.Int64
	}
	if createdBy.Valid {
		e.CreatedBy = &createdBy.Int64
	}
	return &e, nil
}

const expenseCols = `id, space_id, category_id, vendor_id, amount_cents, currency, note, spent_at, created_by, created_at, updated_at`

func (s *BudgetStore) CreateExpense(spaceID int64, categoryID, vendorID *int64, amountCents int64, currency, note string, spentAt time.Time, createdBy *int64) (*model.Expense, error) {
	result, err := s.db.Exec(
		`INSERT INTO expenses (space_id, category_id, vendor_id, amount_cents, currency, note, spent_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		spaceID, nullInt64(categoryID), nullInt64(vendorID), amountCents, currency, note, spentAt.UTC(), nullInt64(createdBy),
	)
	if err != nil {
		return nil, fmt.Errorf("insert expense: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetExpenseByID(spaceID, id)
}

func (s *BudgetStore) GetExpenseByID(spaceID, id int64) (*model.Expense, error) {
	row := s.db.QueryRow(`SELECT `+expenseCols+` FROM expenses WHERE id = ? AND space_id = ?`, id, spaceID)
	e, err := scanExpense(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get expense: %w", err)
	}
	return e, nil
}

// ListExpenses returns expenses spent inside [start, end).
func (s *BudgetStore) ListExpenses(spaceID int64, start, end time.Time) ([]model.Expense, error) {
	rows, err := s.db.Query(
		`SELECT `+expenseCols+` FROM expenses
		 WHERE space_id = ? AND spent_at >= ? AND spent_at < ?
		 ORDER BY spent_at DESC, id DESC`,
		spaceID, start.UTC(), end.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []model.Expense
	for rows.Next() {
		e, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		expenses = append(expenses, *e)
	}
	return expenses, rows.Err()
}

func (s *BudgetStore) UpdateExpense(spaceID, id int64, categoryID, vendorID *int64, amountCents int64, currency, note string, spentAt time.Time) (*model.Expense, error) {
	_, err := s.db.Exec(
		`UPDATE expenses SET category_id = ?, vendor_id = ?, amount_cents = ?, currency = ?, note = ?, spent_at = ?, updated_at = datetime('now')
		 WHERE id = ? AND space_id = ?`,
		nullInt64(categoryID), nullInt64(vendorID), amountCents, currency, note, spentAt.UTC(), id, spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("update expense: %w", err)
	}
	return s.GetExpenseByID(spaceID, id)
}

func (s *BudgetStore) DeleteExpense(spaceID, id int64) error {
	_, err := s.db.Exec(`DELETE FROM expenses WHERE id = ? AND space_id = ?`, id, spaceID)
	if err != nil {
		return fmt.Errorf("delete expense: %w", err)
	}
	return nil
}

// MonthlySummary totals the month's spend per category, including
// categories with no expenses yet. Uncategorized spend is excluded.
func (s *BudgetStore) MonthlySummary(spaceID int64, monthStart time.Time) ([]model.CategorySpend, error) {
	monthEnd := monthStart.AddDate(0, 1, 0)
	rows, err := s.db.Query(
		`SELECT bc.id, bc.name, bc.monthly_limit_cents,
		        COALESCE(SUM(e.amount_cents), 0),
		        COUNT(e.id)
		 FROM budget_categories bc
		 LEFT JOIN expenses e
		   ON e.category_id = bc.id AND e.spent_at >= ? AND e.spent_at < ?
		 WHERE bc.space_id = ?
		 GROUP BY bc.id
		 ORDER BY bc.sort_order ASC, bc.name ASC`,
		monthStart.UTC(), monthEnd.UTC(), spaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("monthly summary: %w", err)
	}
	defer rows.Close()

	var summary []model.CategorySpend
	for rows.Next() {
		var cs model.CategorySpend
		if err := rows.Scan(&cs.CategoryID, &cs.CategoryName, &cs.MonthlyLimitCents, &cs.SpentCents, &cs.ExpenseCount); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		summary = append(summary, cs)
	}
	return summary, rows.Err()
}
