package handler

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/calebmorrow/hearthside/internal/auth"
	"github.com/calebmorrow/hearthside/internal/budget"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/store"
	"github.com/calebmorrow/hearthside/internal/websocket"
)

const defaultCurrency = "USD"

type BudgetHandler struct {
	budgets  *store.BudgetStore
	vendors  *store.VendorStore
	settings *store.SettingsStore
	hub      *websocket.Hub
	logger   *slog.Logger
}

func NewBudgetHandler(bs *store.BudgetStore, vs *store.VendorStore, ss *store.SettingsStore, hub *websocket.Hub, logger *slog.Logger) *BudgetHandler {
	return &BudgetHandler{budgets: bs, vendors: vs, settings: ss, hub: hub, logger: logger}
}

func (h *BudgetHandler) broadcast(spaceID int64, msg websocket.Message) {
	if h.hub != nil {
		h.hub.Broadcast(spaceID, msg)
	}
}

type categoryRequest struct {
	Name              string `json:"name"`
	MonthlyLimitCents int64  `json:"monthly_limit_cents"`
	SortOrder         int    `json:"sort_order"`
}

func validateCategory(req *categoryRequest) []Issue {
	var issues []Issue
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		issues = append(issues, Issue{Field: "name", Message: "name is required"})
	}
	if req.MonthlyLimitCents < 0 {
		issues = append(issues, Issue{Field: "monthly_limit_cents", Message: "monthly_limit_cents cannot be negative"})
	}
	return issues
}

func (h *BudgetHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	var req categoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateCategory(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	created, err := h.budgets.CreateCategory(spaceID, req.Name, req.MonthlyLimitCents, req.SortOrder)
	if err != nil {
		h.logger.Error("create budget category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create category")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("budget_category", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

func (h *BudgetHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	categories, err := h.budgets.ListCategories(spaceID)
	if err != nil {
		h.logger.Error("list budget categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list categories")
		return
	}
	if categories == nil {
		categories = []model.BudgetCategory{}
	}

	writeData(w, http.StatusOK, categories)
}

func (h *BudgetHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.budgets.GetCategoryByID(spaceID, id)
	if err != nil {
		h.logger.Error("get budget category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}

	var req categoryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if issues := validateCategory(&req); len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	updated, err := h.budgets.UpdateCategory(spaceID, id, req.Name, req.MonthlyLimitCents, req.SortOrder)
	if err != nil {
		h.logger.Error("update budget category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update category")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("budget_category", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

// DeleteCategory removes a category. Expenses keep their rows with
// category_id cleared, so history is preserved.
func (h *BudgetHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.budgets.GetCategoryByID(spaceID, id)
	if err != nil {
		h.logger.Error("get budget category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "category not found")
		return
	}

	if err := h.budgets.DeleteCategory(spaceID, id); err != nil {
		h.logger.Error("delete budget category", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete category")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("budget_category", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "category deleted"})
}

// SuggestCategory guesses a category for free-form expense text and, when the
// space still has a category by that name, resolves it to the concrete row.
// Renamed or deleted defaults just come back with a null id.
func (h *BudgetHandler) SuggestCategory(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}

	name := budget.Suggest(q)

	categories, err := h.budgets.ListCategories(spaceID)
	if err != nil {
		h.logger.Error("list budget categories", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to suggest category")
		return
	}

	var categoryID *int64
	for i := range categories {
		if strings.EqualFold(categories[i].Name, name) {
			categoryID = &categories[i].ID
			break
		}
	}

	writeData(w, http.StatusOK, model.CategorySuggestion{Category: name, CategoryID: categoryID})
}

type expenseRequest struct {
	CategoryID  *int64 `json:"category_id"`
	VendorID    *int64 `json:"vendor_id"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Note        string `json:"note"`
	SpentAt     string `json:"spent_at"`
}

// validateExpense checks the request and resolves referenced rows. The
// returned spentAt is only valid when issues is empty.
func (h *BudgetHandler) validateExpense(spaceID int64, req *expenseRequest) ([]Issue, time.Time, error) {
	var issues []Issue
	var spentAt time.Time

	if req.AmountCents <= 0 {
		issues = append(issues, Issue{Field: "amount_cents", Message: "amount_cents must be positive"})
	}

	if req.Currency == "" {
		cur, err := h.settings.GetOrDefault(spaceID, "currency", defaultCurrency)
		if err != nil {
			return nil, spentAt, err
		}
		req.Currency = cur
	}
	if len(req.Currency) != 3 {
		issues = append(issues, Issue{Field: "currency", Message: "currency must be a 3-letter code"})
	} else {
		req.Currency = strings.ToUpper(req.Currency)
	}

	if req.SpentAt == "" {
		issues = append(issues, Issue{Field: "spent_at", Message: "spent_at is required"})
	} else {
		var err error
		spentAt, err = parseDate(req.SpentAt)
		if err != nil {
			issues = append(issues, Issue{Field: "spent_at", Message: "spent_at must be YYYY-MM-DD"})
		}
	}

	if req.CategoryID != nil {
		cat, err := h.budgets.GetCategoryByID(spaceID, *req.CategoryID)
		if err != nil {
			return nil, spentAt, err
		}
		if cat == nil {
			issues = append(issues, Issue{Field: "category_id", Message: "category not found"})
		}
	}

	if req.VendorID != nil {
		vendor, err := h.vendors.GetByID(spaceID, *req.VendorID)
		if err != nil {
			return nil, spentAt, err
		}
		if vendor == nil {
			issues = append(issues, Issue{Field: "vendor_id", Message: "vendor not found"})
		}
	}

	return issues, spentAt, nil
}

func (h *BudgetHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	ac, _ := auth.FromContext(r.Context())

	var req expenseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, spentAt, err := h.validateExpense(ac.SpaceID, &req)
	if err != nil {
		h.logger.Error("validate expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create expense")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	created, err := h.budgets.CreateExpense(ac.SpaceID, req.CategoryID, req.VendorID, req.AmountCents, req.Currency, req.Note, spentAt, &ac.UserID)
	if err != nil {
		h.logger.Error("create expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create expense")
		return
	}

	h.broadcast(ac.SpaceID, websocket.NewMessage("expense", "created", created.ID, nil))
	writeData(w, http.StatusCreated, created)
}

// ListExpenses returns expenses within an optional date range. Without
// query params it covers the current month.
func (h *BudgetHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	q := r.URL.Query()

	now := time.Now().UTC()
	start := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)

	if v := q.Get("start"); v != "" {
		parsed, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "start must be YYYY-MM-DD")
			return
		}
		start = parsed
	}
	if v := q.Get("end"); v != "" {
		parsed, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "end must be YYYY-MM-DD")
			return
		}
		// Inclusive end date.
		end = parsed.AddDate(0, 0, 1)
	}

	expenses, err := h.budgets.ListExpenses(spaceID, start, end)
	if err != nil {
		h.logger.Error("list expenses", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list expenses")
		return
	}
	if expenses == nil {
		expenses = []model.Expense{}
	}

	writeData(w, http.StatusOK, expenses)
}

func (h *BudgetHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.budgets.GetExpenseByID(spaceID, id)
	if err != nil {
		h.logger.Error("get expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update expense")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "expense not found")
		return
	}

	var req expenseRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	issues, spentAt, err := h.validateExpense(spaceID, &req)
	if err != nil {
		h.logger.Error("validate expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update expense")
		return
	}
	if len(issues) > 0 {
		writeIssues(w, "validation failed", issues)
		return
	}

	updated, err := h.budgets.UpdateExpense(spaceID, id, req.CategoryID, req.VendorID, req.AmountCents, req.Currency, req.Note, spentAt)
	if err != nil {
		h.logger.Error("update expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update expense")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("expense", "updated", id, nil))
	writeData(w, http.StatusOK, updated)
}

func (h *BudgetHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())
	id, err := parseIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	existing, err := h.budgets.GetExpenseByID(spaceID, id)
	if err != nil {
		h.logger.Error("get expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete expense")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "expense not found")
		return
	}

	if err := h.budgets.DeleteExpense(spaceID, id); err != nil {
		h.logger.Error("delete expense", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete expense")
		return
	}

	h.broadcast(spaceID, websocket.NewMessage("expense", "deleted", id, nil))
	writeData(w, http.StatusOK, map[string]string{"message": "expense deleted"})
}

// Summary reports per-category spending against limits for one month.
// The month query param takes YYYY-MM and defaults to the current month.
func (h *BudgetHandler) Summary(w http.ResponseWriter, r *http.Request) {
	spaceID := auth.SpaceID(r.Context())

	now := time.Now().UTC()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if v := r.URL.Query().Get("month"); v != "" {
		parsed, err := time.Parse("2006-01", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "month must be YYYY-MM")
			return
		}
		monthStart = parsed
	}

	summary, err := h.budgets.MonthlySummary(spaceID, monthStart)
	if err != nil {
		h.logger.Error("budget summary", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to compute summary")
		return
	}
	if summary == nil {
		summary = []model.CategorySpend{}
	}

	writeData(w, http.StatusOK, map[string]any{
		"month":      monthStart.Format("2006-01"),
		"categories": summary,
	})
}
