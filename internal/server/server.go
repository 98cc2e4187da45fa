package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/calebmorrow/hearthside/internal/billing"
	"github.com/calebmorrow/hearthside/internal/calendar"
	"github.com/calebmorrow/hearthside/internal/config"
	"github.com/calebmorrow/hearthside/internal/deletion"
	"github.com/calebmorrow/hearthside/internal/email"
	"github.com/calebmorrow/hearthside/internal/export"
	"github.com/calebmorrow/hearthside/internal/handler"
	"github.com/calebmorrow/hearthside/internal/jobs"
	"github.com/calebmorrow/hearthside/internal/middleware"
	"github.com/calebmorrow/hearthside/internal/model"
	"github.com/calebmorrow/hearthside/internal/push"
	"github.com/calebmorrow/hearthside/internal/store"
	ws "github.com/calebmorrow/hearthside/internal/websocket"
)

type Server struct {
	db  *sql.DB
	cfg *config.Config
	hub *ws.Hub

	authH     *handler.AuthHandler
	spaceH    *handler.SpaceHandler
	taskH     *handler.TaskHandler
	projectH  *handler.ProjectHandler
	goalH     *handler.GoalHandler
	budgetH   *handler.BudgetHandler
	vendorH   *handler.VendorHandler
	mealH     *handler.MealHandler
	messageH  *handler.MessageHandler
	calendarH *handler.CalendarHandler
	billingH  *handler.BillingHandler
	accountH  *handler.AccountHandler
	pushH     *handler.PushHandler
	exportH   *handler.ExportHandler
	settingsH *handler.SettingsHandler
	cronH     *handler.CronHandler

	sessionStore  *store.SessionStore
	spaceStore    *store.SpaceStore
	rateLimiter   *middleware.RateLimiter
	pushScheduler *push.Scheduler
	runner        *jobs.Runner
	logger        *slog.Logger
}

// New wires stores, integrations, and handlers into a server. Integrations
// whose credentials are absent stay nil; their handlers answer with a
// "not configured" error and the matching jobs report skipped.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	userStore := store.NewUserStore(db)
	spaceStore := store.NewSpaceStore(db)
	sessionStore := store.NewSessionStore(db)
	magicLinkStore := store.NewMagicLinkStore(db)
	taskStore := store.NewTaskStore(db)
	projectStore := store.NewProjectStore(db)
	goalStore := store.NewGoalStore(db)
	budgetStore := store.NewBudgetStore(db)
	vendorStore := store.NewVendorStore(db)
	mealStore := store.NewMealStore(db)
	messageStore := store.NewMessageStore(db)
	eventStore := store.NewEventStore(db)
	connectionStore := store.NewCalendarConnectionStore(db)
	conflictStore := store.NewConflictStore(db)
	syncLogStore := store.NewSyncLogStore(db)
	subscriptionStore := store.NewSubscriptionStore(db)
	usageStore := store.NewUsageStore(db)
	deletionStore := store.NewDeletionStore(db)
	pushStore := store.NewPushStore(db)
	exportStore := store.NewExportStore(db)
	settingsStore := store.NewSettingsStore(db)

	emailClient := email.NewClient(cfg.PostmarkToken, cfg.FromEmail, cfg.BaseURL)
	gate := billing.NewGate(subscriptionStore, usageStore, logger.With("component", "billing"))

	var stripeClient *billing.Client
	if cfg.BillingEnabled() {
		stripeClient = billing.NewClient(billing.Config{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
			PlusPriceID:   cfg.StripePlusPriceID,
			SuccessURL:    cfg.BaseURL + "/settings/billing?checkout=success",
			CancelURL:     cfg.BaseURL + "/settings/billing?checkout=canceled",
		})
	}

	var pushSvc *push.Service
	var pushSched *push.Scheduler
	if cfg.PushEnabled() {
		pushSvc = push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
		pushSched = push.NewScheduler(pushSvc, pushStore, eventStore, taskStore, settingsStore, logger.With("component", "push"))
	}

	calendarLogger := logger.With("component", "calendar")
	providers := make(map[string]calendar.Provider)
	if cfg.GoogleClientID != "" && cfg.GoogleClientSecret != "" {
		p, err := calendar.NewProvider(model.ProviderGoogle, calendar.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
			RedirectURL:  cfg.BaseURL + "/calendar/callback",
		})
		if err != nil {
			calendarLogger.Error("configure google provider", "error", err)
		} else {
			providers[model.ProviderGoogle] = p
		}
	}
	if cfg.OutlookClientID != "" && cfg.OutlookClientSecret != "" {
		p, err := calendar.NewProvider(model.ProviderOutlook, calendar.OAuthConfig{
			ClientID:     cfg.OutlookClientID,
			ClientSecret: cfg.OutlookClientSecret,
			RedirectURL:  cfg.BaseURL + "/calendar/callback",
		})
		if err != nil {
			calendarLogger.Error("configure outlook provider", "error", err)
		} else {
			providers[model.ProviderOutlook] = p
		}
	}
	var engine *calendar.Engine
	if len(providers) > 0 && cfg.OAuthStateSecret != "" {
		engine = calendar.NewEngine(connectionStore, eventStore, conflictStore, syncLogStore, providers, logger)
	}

	exportMgr := export.NewManager(export.Config{
		S3: export.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		},
		Passphrase:    cfg.ExportPassphrase,
		RetentionDays: cfg.ExportRetention,
	}, exportStore, export.Stores{
		Spaces:   spaceStore,
		Tasks:    taskStore,
		Projects: projectStore,
		Goals:    goalStore,
		Budgets:  budgetStore,
		Vendors:  vendorStore,
		Meals:    mealStore,
		Messages: messageStore,
		Events:   eventStore,
	}, logger)

	// The sweeper nil-checks its channels through interfaces, so only hand
	// it non-nil concrete values.
	var sweepMailer deletion.Mailer
	if emailClient.Configured() {
		sweepMailer = emailClient
	}
	var sweepNotifier deletion.Notifier
	if pushSched != nil {
		sweepNotifier = pushSched
	}
	sweeper := deletion.NewSweeper(db, deletionStore, spaceStore, sweepMailer, sweepNotifier, deletion.DefaultWarningLead, logger)

	rateLimiter := middleware.NewRateLimiter()

	runner := jobs.NewRunner(jobs.Config{
		Sweeper:   sweeper,
		Engine:    engine,
		Reminders: pushSched,
		Limiter:   rateLimiter,
		Sessions:  sessionStore,
		Links:     magicLinkStore,
		Push:      pushStore,
		SyncLogs:  syncLogStore,
		Usage:     usageStore,
		Exporter:  exportMgr,
	}, logger)

	return &Server{
		db:  db,
		cfg: cfg,
		hub: hub,

		authH:     handler.NewAuthHandler(userStore, spaceStore, sessionStore, magicLinkStore, emailClient, logger.With("component", "auth")),
		spaceH:    handler.NewSpaceHandler(spaceStore, userStore, sessionStore, magicLinkStore, emailClient, gate, logger.With("component", "space")),
		taskH:     handler.NewTaskHandler(taskStore, spaceStore, gate, hub, logger.With("component", "task")),
		projectH:  handler.NewProjectHandler(projectStore, taskStore, hub, logger.With("component", "project")),
		goalH:     handler.NewGoalHandler(goalStore, hub, logger.With("component", "goal")),
		budgetH:   handler.NewBudgetHandler(budgetStore, vendorStore, settingsStore, hub, logger.With("component", "budget")),
		vendorH:   handler.NewVendorHandler(vendorStore, hub, logger.With("component", "vendor")),
		mealH:     handler.NewMealHandler(mealStore, spaceStore, hub, logger.With("component", "meal")),
		messageH:  handler.NewMessageHandler(messageStore, userStore, gate, hub, pushSched, logger.With("component", "message")),
		calendarH: handler.NewCalendarHandler(eventStore, connectionStore, conflictStore, syncLogStore, spaceStore, engine, gate, hub, cfg.OAuthStateSecret, calendarLogger),
		billingH:  handler.NewBillingHandler(subscriptionStore, usageStore, userStore, spaceStore, stripeClient, gate, cfg.BaseURL, logger.With("component", "billing")),
		accountH:  handler.NewAccountHandler(userStore, sessionStore, deletionStore, emailClient, logger.With("component", "account")),
		pushH:     handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push")),
		exportH:   handler.NewExportHandler(exportMgr, exportStore, gate, logger.With("component", "export")),
		settingsH: handler.NewSettingsHandler(settingsStore, hub, logger.With("component", "settings")),
		cronH:     handler.NewCronHandler(runner, logger.With("component", "cron")),

		sessionStore:  sessionStore,
		spaceStore:    spaceStore,
		rateLimiter:   rateLimiter,
		pushScheduler: pushSched,
		runner:        runner,
		logger:        logger,
	}
}

// Runner exposes the job runner so main can hang the in-process scheduler
// off the same code path the cron endpoints use.
func (s *Server) Runner() *jobs.Runner {
	return s.runner
}

// PushScheduler returns the reminder scheduler, nil when push is disabled.
func (s *Server) PushScheduler() *push.Scheduler {
	return s.pushScheduler
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes. Every auth endpoint shares the strict per-IP budget;
	// the Stripe webhook authenticates by signature instead of session.
	outerMux.HandleFunc("POST /api/auth/register", s.authLimited(s.authH.Register))
	outerMux.HandleFunc("POST /api/auth/login", s.authLimited(s.authH.Login))
	outerMux.HandleFunc("POST /api/auth/verify-email", s.authLimited(s.authH.VerifyEmail))
	outerMux.HandleFunc("POST /api/auth/magic-link/request", s.authLimited(s.authH.MagicLinkRequest))
	outerMux.HandleFunc("POST /api/auth/magic-link/verify", s.authLimited(s.authH.MagicLinkVerify))
	outerMux.HandleFunc("POST /api/auth/password-reset/request", s.authLimited(s.authH.PasswordResetRequest))
	outerMux.HandleFunc("POST /api/auth/password-reset/confirm", s.authLimited(s.authH.PasswordResetConfirm))
	outerMux.HandleFunc("POST /api/auth/invite/accept", s.authLimited(s.authH.InviteAccept))
	outerMux.HandleFunc("POST /webhooks/stripe", s.billingH.Webhook)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Cron endpoints carry the shared secret, not a session.
	cronAuth := middleware.RequireCronSecret(s.cfg.CronSecret)
	outerMux.Handle("POST /api/cron/deletion-sweep", cronAuth(http.HandlerFunc(s.cronH.DeletionSweep)))
	outerMux.Handle("POST /api/cron/token-cleanup", cronAuth(http.HandlerFunc(s.cronH.TokenCleanup)))
	outerMux.Handle("POST /api/cron/calendar-sync", cronAuth(http.HandlerFunc(s.cronH.CalendarSync)))
	outerMux.Handle("POST /api/cron/reminders", cronAuth(http.HandlerFunc(s.cronH.Reminders)))

	// Everything else requires a session with an active space. The general
	// limiter sits outside auth so floods are refused before touching the
	// database.
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	requireAuth := middleware.RequireAuth(s.sessionStore, s.spaceStore)
	generalLimit := middleware.RateLimit(s.rateLimiter, generalKey, s.cfg.GeneralRateLimit, s.cfg.RateWindow)
	outerMux.Handle("/", generalLimit(requireAuth(protectedMux)))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// The auth and general policies share one limiter, so their keys carry a
// prefix to keep the counters apart.
func authKey(r *http.Request) string {
	return "auth:" + middleware.RealIP(r)
}

func generalKey(r *http.Request) string {
	return "api:" + middleware.RealIP(r)
}

func (s *Server) authLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, authKey, s.cfg.AuthRateLimit, s.cfg.RateWindow)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(h).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	admin := middleware.RequireAdmin

	// Session routes
	mux.HandleFunc("POST /api/auth/logout", s.authH.Logout)
	mux.HandleFunc("GET /api/auth/me", s.authH.Me)
	mux.HandleFunc("POST /api/auth/switch-space", s.authH.SwitchSpace)

	// Spaces and membership
	mux.HandleFunc("POST /api/spaces", s.spaceH.Create)
	mux.HandleFunc("GET /api/spaces", s.spaceH.ListMine)
	mux.HandleFunc("GET /api/spaces/current", s.spaceH.Get)
	mux.Handle("PUT /api/spaces/current", admin(http.HandlerFunc(s.spaceH.Update)))
	mux.Handle("DELETE /api/spaces/current", admin(http.HandlerFunc(s.spaceH.Delete)))
	mux.HandleFunc("GET /api/spaces/members", s.spaceH.Members)
	mux.Handle("DELETE /api/spaces/members/{id}", admin(http.HandlerFunc(s.spaceH.RemoveMember)))
	mux.Handle("PUT /api/spaces/members/{id}/role", admin(http.HandlerFunc(s.spaceH.UpdateMemberRole)))
	mux.Handle("POST /api/spaces/invite", admin(http.HandlerFunc(s.spaceH.Invite)))

	// Tasks
	mux.HandleFunc("POST /api/tasks", s.taskH.Create)
	mux.HandleFunc("GET /api/tasks", s.taskH.List)
	mux.HandleFunc("GET /api/tasks/{id}", s.taskH.Get)
	mux.HandleFunc("PUT /api/tasks/{id}", s.taskH.Update)
	mux.HandleFunc("DELETE /api/tasks/{id}", s.taskH.Delete)
	mux.HandleFunc("POST /api/tasks/{id}/complete", s.taskH.Complete)
	mux.HandleFunc("DELETE /api/tasks/{id}/complete", s.taskH.UndoComplete)

	// Projects
	mux.HandleFunc("POST /api/projects", s.projectH.Create)
	mux.HandleFunc("GET /api/projects", s.projectH.List)
	mux.HandleFunc("GET /api/projects/{id}", s.projectH.Get)
	mux.HandleFunc("PUT /api/projects/{id}", s.projectH.Update)
	mux.HandleFunc("DELETE /api/projects/{id}", s.projectH.Delete)

	// Goals
	mux.HandleFunc("POST /api/goals", s.goalH.Create)
	mux.HandleFunc("GET /api/goals", s.goalH.List)
	mux.HandleFunc("GET /api/goals/{id}", s.goalH.Get)
	mux.HandleFunc("PUT /api/goals/{id}", s.goalH.Update)
	mux.HandleFunc("PUT /api/goals/{id}/progress", s.goalH.UpdateProgress)
	mux.HandleFunc("DELETE /api/goals/{id}", s.goalH.Delete)

	// Budgets
	mux.HandleFunc("POST /api/budget/categories", s.budgetH.CreateCategory)
	mux.HandleFunc("GET /api/budget/categories", s.budgetH.ListCategories)
	mux.HandleFunc("GET /api/budget/categories/suggest", s.budgetH.SuggestCategory)
	mux.HandleFunc("PUT /api/budget/categories/{id}", s.budgetH.UpdateCategory)
	mux.HandleFunc("DELETE /api/budget/categories/{id}", s.budgetH.DeleteCategory)
	mux.HandleFunc("POST /api/budget/expenses", s.budgetH.CreateExpense)
	mux.HandleFunc("GET /api/budget/expenses", s.budgetH.ListExpenses)
	mux.HandleFunc("PUT /api/budget/expenses/{id}", s.budgetH.UpdateExpense)
	mux.HandleFunc("DELETE /api/budget/expenses/{id}", s.budgetH.DeleteExpense)
	mux.HandleFunc("GET /api/budget/summary", s.budgetH.Summary)

	// Vendors
	mux.HandleFunc("POST /api/vendors", s.vendorH.Create)
	mux.HandleFunc("GET /api/vendors", s.vendorH.List)
	mux.HandleFunc("GET /api/vendors/{id}", s.vendorH.Get)
	mux.HandleFunc("PUT /api/vendors/{id}", s.vendorH.Update)
	mux.HandleFunc("DELETE /api/vendors/{id}", s.vendorH.Delete)

	// Meals
	mux.HandleFunc("POST /api/meals", s.mealH.Create)
	mux.HandleFunc("GET /api/meals", s.mealH.List)
	mux.HandleFunc("GET /api/meals/{id}", s.mealH.Get)
	mux.HandleFunc("PUT /api/meals/{id}", s.mealH.Update)
	mux.HandleFunc("DELETE /api/meals/{id}", s.mealH.Delete)

	// Messages
	mux.HandleFunc("GET /api/messages", s.messageH.List)
	mux.HandleFunc("POST /api/messages", s.messageH.Post)
	mux.HandleFunc("PUT /api/messages/{id}", s.messageH.Edit)
	mux.HandleFunc("DELETE /api/messages/{id}", s.messageH.Delete)

	// Calendar events and sync
	mux.HandleFunc("POST /api/calendar/events", s.calendarH.CreateEvent)
	mux.HandleFunc("GET /api/calendar/events", s.calendarH.ListEvents)
	mux.HandleFunc("GET /api/calendar/events/{id}", s.calendarH.GetEvent)
	mux.HandleFunc("PUT /api/calendar/events/{id}", s.calendarH.UpdateEvent)
	mux.HandleFunc("DELETE /api/calendar/events/{id}", s.calendarH.DeleteEvent)
	mux.HandleFunc("GET /api/calendar/connect/{provider}", s.calendarH.ConnectBegin)
	mux.HandleFunc("POST /api/calendar/callback", s.calendarH.ConnectCallback)
	mux.HandleFunc("GET /api/calendar/connections", s.calendarH.ListConnections)
	mux.HandleFunc("DELETE /api/calendar/connections/{id}", s.calendarH.Disconnect)
	mux.HandleFunc("POST /api/calendar/connections/{id}/sync", s.calendarH.SyncNow)
	mux.HandleFunc("GET /api/calendar/conflicts", s.calendarH.ListConflicts)
	mux.HandleFunc("POST /api/calendar/conflicts/{id}/resolve", s.calendarH.ResolveConflict)
	mux.HandleFunc("GET /api/calendar/sync-logs", s.calendarH.ListSyncLogs)

	// Billing
	mux.HandleFunc("GET /api/billing/subscription", s.billingH.Subscription)
	mux.Handle("POST /api/billing/checkout", admin(http.HandlerFunc(s.billingH.Checkout)))
	mux.Handle("POST /api/billing/portal", admin(http.HandlerFunc(s.billingH.Portal)))

	// Account
	mux.HandleFunc("PUT /api/account/profile", s.accountH.UpdateProfile)
	mux.HandleFunc("PUT /api/account/password", s.accountH.ChangePassword)
	mux.HandleFunc("POST /api/account/deletion", s.accountH.RequestDeletion)
	mux.HandleFunc("DELETE /api/account/deletion", s.accountH.CancelDeletion)
	mux.HandleFunc("GET /api/account/deletion", s.accountH.DeletionStatus)

	// Push notifications
	mux.HandleFunc("GET /api/push/vapid-key", s.pushH.VAPIDKey)
	mux.HandleFunc("POST /api/push/subscriptions", s.pushH.Subscribe)
	mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
	mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
	mux.HandleFunc("GET /api/push/preferences", s.pushH.Preferences)
	mux.HandleFunc("PUT /api/push/preferences", s.pushH.SetPreference)

	// Space export
	mux.Handle("POST /api/exports", admin(http.HandlerFunc(s.exportH.Request)))
	mux.HandleFunc("GET /api/exports", s.exportH.List)
	mux.HandleFunc("GET /api/exports/{id}/download", s.exportH.Download)
	mux.Handle("DELETE /api/exports/{id}", admin(http.HandlerFunc(s.exportH.Delete)))

	// Space settings
	mux.HandleFunc("GET /api/settings", s.settingsH.Get)
	mux.Handle("PUT /api/settings", admin(http.HandlerFunc(s.settingsH.Update)))

	// Realtime
	mux.Handle("GET /ws", ws.HandleWebSocket(s.hub))
}
