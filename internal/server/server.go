package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/auth"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/backup"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/cache"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/clock"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/family"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/handler"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/lifecycle"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/middleware"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/notify"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/push"
	"github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/store"
	ws "github.com/NicolaePaulGeambazu/ClueMe-sub004/internal/websocket"
)

// Config carries the secrets and toggles the server wires into its services.
type Config struct {
	JWTSecret       string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Backup          backup.Config
}

// Server wires stores, services, and handlers together. The reminder store
// backend is interchangeable; the sqlite db always carries the push registry
// and backup history.
type Server struct {
	db            *sql.DB
	store         store.Store
	hub           *ws.Hub
	cache         *cache.Cache
	controller    *lifecycle.Controller
	tokens        *auth.Tokens
	reminderH     *handler.ReminderHandler
	familyH       *handler.FamilyHandler
	pushH         *handler.PushHandler
	pushStore     *store.PushStore
	dispatcher    *push.Dispatcher
	rateLimiter   *middleware.RateLimiter
	backupManager *backup.Manager
	logger        *slog.Logger
}

func New(db *sql.DB, st store.Store, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))
	clk := clock.NewSystem()

	pushStore := store.NewPushStore(db)
	transport := push.NewTransport(pushStore)
	synchronizer := notify.NewSynchronizer(transport, clk, logger.With("component", "notify"))

	reminderCache := cache.New(st, clk, logger.With("component", "cache"), 0)
	controller := lifecycle.NewController(st, synchronizer, reminderCache, clk, ws.NewSync(hub), logger.With("component", "lifecycle"))

	// Backup store + manager; status changes fan out to connected devices.
	backupStore := store.NewBackupStore(db)
	backupMgr := backup.NewManager(cfg.Backup, db, backupStore, func(s backup.Status) {
		hub.Broadcast(ws.Message{
			Type:   "backup_status",
			Entity: "backup",
			Action: string(s.State),
			Extra: map[string]any{
				"in_progress": s.InProgress,
				"error":       s.Error,
			},
		})
	}, logger.With("component", "backup"))

	// Push delivery is optional; without VAPID keys the registry still
	// records schedules, they just never leave the box.
	var dispatcher *push.Dispatcher
	var pushH *handler.PushHandler
	if cfg.VAPIDPublicKey != "" && cfg.VAPIDPrivateKey != "" {
		pushSvc := push.NewService(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
		dispatcher = push.NewDispatcher(pushSvc, pushStore, clk, logger.With("component", "push"))
		pushH = handler.NewPushHandler(pushStore, pushSvc, logger.With("component", "push_handler"))
	}

	provider := family.NewProvider(st)

	return &Server{
		db:            db,
		store:         st,
		hub:           hub,
		cache:         reminderCache,
		controller:    controller,
		tokens:        auth.NewTokens(cfg.JWTSecret, auth.DefaultTokenTTL),
		reminderH:     handler.NewReminderHandler(controller, reminderCache, logger.With("component", "reminder")),
		familyH:       handler.NewFamilyHandler(st, provider, logger.With("component", "family")),
		pushH:         pushH,
		pushStore:     pushStore,
		dispatcher:    dispatcher,
		rateLimiter:   middleware.NewRateLimiter(30, time.Minute),
		backupManager: backupMgr,
		logger:        logger,
	}
}

// Dispatcher returns the push dispatcher, nil when VAPID keys are absent.
func (s *Server) Dispatcher() *push.Dispatcher {
	return s.dispatcher
}

// BackupManager returns the backup manager for scheduled runs.
func (s *Server) BackupManager() *backup.Manager {
	return s.backupManager
}

// PushStore returns the push store for cleanup tasks.
func (s *Server) PushStore() *store.PushStore {
	return s.pushStore
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Close releases in-process resources. The db is owned by the caller.
func (s *Server) Close() {
	s.cache.Close()
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no auth required)
	outerMux.HandleFunc("GET /health", s.healthHandler)

	// Protected routes, wrapped with RequireAuth middleware.
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.tokens)
	outerMux.Handle("/", authMiddleware(protectedMux))

	// Apply request logging middleware
	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Reminder API routes
	mux.HandleFunc("POST /api/reminders", s.reminderH.Create)
	mux.HandleFunc("GET /api/reminders", s.reminderH.List)
	mux.HandleFunc("GET /api/reminders/preview", s.reminderH.Preview)
	mux.HandleFunc("GET /api/reminders/{id}", s.reminderH.Get)
	mux.HandleFunc("PUT /api/reminders/{id}", s.reminderH.Update)
	mux.HandleFunc("DELETE /api/reminders/{id}", s.reminderH.Delete)
	mux.HandleFunc("POST /api/reminders/{id}/complete", s.reminderH.Complete)

	// Family API routes; membership changes are admin-only
	mux.HandleFunc("GET /api/family", s.familyH.Current)
	mux.HandleFunc("POST /api/family", s.familyH.Create)
	mux.HandleFunc("GET /api/family/members", s.familyH.ListMembers)
	mux.Handle("POST /api/family/members", middleware.RequireAdmin(http.HandlerFunc(s.familyH.AddMember)))
	mux.Handle("DELETE /api/family/members/{id}", middleware.RequireAdmin(http.HandlerFunc(s.familyH.RemoveMember)))

	// Push notification API routes
	if s.pushH != nil {
		mux.Handle("POST /api/push/subscribe", s.rateLimiter.Middleware(http.HandlerFunc(s.pushH.Subscribe)))
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
		mux.HandleFunc("POST /api/push/test", s.pushH.TestNotification)
	}

	// WebSocket
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.logger.With("component", "websocket")))
}
