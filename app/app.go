package app

import (
	"expense-categories/services"
	"expense-categories/session"
	"expense-categories/storage"
	"expense-categories/sync"
	"expense-categories/validator"
	"log/slog"
)

// App holds all application dependencies
// This struct is the central point for dependency injection
type App struct {
	Docs         storage.Provider
	Registry     *services.Registry
	AuthService  *services.AuthService
	SyncWorker   *sync.Worker
	SessionStore *session.Store
	Validator    *validator.Validator
	Logger       *slog.Logger
}

// New creates a new App instance with all dependencies
func New(docs storage.Provider, registry *services.Registry, authService *services.AuthService, syncWorker *sync.Worker, sessionStore *session.Store, logger *slog.Logger) *App {
	return &App{
		Docs:         docs,
		Registry:     registry,
		AuthService:  authService,
		SyncWorker:   syncWorker,
		SessionStore: sessionStore,
		Validator:    validator.New(),
		Logger:       logger,
	}
}
