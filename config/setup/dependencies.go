package setup

import (
	"context"
	"errors"
	"expense-categories/app"
	"expense-categories/config"
	"expense-categories/database"
	"expense-categories/identity"
	"expense-categories/services"
	"expense-categories/session"
	"expense-categories/storage"
	"expense-categories/storage/firestore"
	"expense-categories/sync"
	"fmt"
	"log/slog"
	"time"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

const sessionCleanupInterval = time.Hour

// Dependencies are the long-lived resources created at startup
type Dependencies struct {
	Docs     storage.Provider
	Verifier identity.Verifier
}

// InitFirebase initializes the Firebase app from the configured credentials.
// Without credentials the app uses Application Default Credentials.
func InitFirebase(ctx context.Context, cfg *config.Config) (*firebase.App, error) {
	var opts []option.ClientOption
	switch {
	case cfg.FirebaseCredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.FirebaseCredentialsJSON)))
	case cfg.FirebaseCredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.FirebaseCredentialsFile))
	}

	fbConfig := &firebase.Config{ProjectID: cfg.FirebaseProjectID}
	fbApp, err := firebase.NewApp(ctx, fbConfig, opts...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}
	return fbApp, nil
}

// InitDatabase initializes the SQLite database and runs migrations
func InitDatabase(dbPath string, logger *slog.Logger) (*database.DB, error) {
	db, err := database.New(dbPath)
	if err != nil {
		return nil, err
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("database initialized", "path", dbPath)
	return db, nil
}

// InitDependencies picks the document store backend and identity verifier
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{}

	var fbApp *firebase.App
	if cfg.FirebaseProjectID != "" {
		var err error
		if fbApp, err = InitFirebase(ctx, cfg); err != nil {
			return nil, err
		}
	}

	switch cfg.StoreBackend {
	case config.BackendFirestore:
		var (
			docs *firestore.Provider
			err  error
		)
		if cfg.FirestoreAccessToken != "" {
			docs, err = firestore.NewWithToken(ctx, cfg.FirebaseProjectID, cfg.FirestoreAccessToken)
		} else {
			docs, err = firestore.NewFromApp(ctx, fbApp)
		}
		if err != nil {
			return nil, err
		}
		deps.Docs = docs
		logger.Info("document store configured", "backend", "firestore", "project", cfg.FirebaseProjectID)
	default:
		db, err := InitDatabase(cfg.DBPath, logger)
		if err != nil {
			return nil, err
		}
		deps.Docs = database.NewRepository(db)
		logger.Info("document store configured", "backend", "sqlite")
	}

	switch {
	case fbApp != nil:
		verifier, err := identity.NewFirebaseVerifier(ctx, fbApp)
		if err != nil {
			deps.Docs.Close()
			return nil, err
		}
		deps.Verifier = verifier
	case cfg.IsDevelopment():
		logger.Warn("no Firebase project configured, accepting raw user ids as tokens")
		deps.Verifier = identity.DevVerifier{}
	default:
		deps.Docs.Close()
		return nil, errors.New("FIREBASE_PROJECT_ID is required outside development")
	}

	return deps, nil
}

// InitApp initializes the application with all dependencies
func InitApp(cfg *config.Config, deps *Dependencies, logger *slog.Logger) *app.App {
	colors := services.NewRandomColorPicker()
	if cfg.PaletteSeed != 0 {
		colors = services.NewColorPicker(cfg.PaletteSeed)
	}

	registry := services.NewRegistry(deps.Docs, logger, services.WithColorPicker(colors))

	sessionStore := session.NewStore(cfg.SessionTTL)
	sessionStore.OnEnd(registry.Release)
	logger.Info("session store initialized", "ttl", cfg.SessionTTL)

	authService := services.NewAuthService(deps.Verifier, sessionStore, registry)

	syncWorker := sync.NewWorker(registry, sessionStore, cfg.SyncInterval, cfg.SyncMaxInterval)

	application := app.New(deps.Docs, registry, authService, syncWorker, sessionStore, logger)
	logger.Info("application initialized with dependency injection")

	return application
}

// Start launches the background routines; closing stop ends session cleanup
func Start(application *app.App, stop <-chan struct{}, logger *slog.Logger) {
	application.SessionStore.StartCleanupRoutine(sessionCleanupInterval, stop)
	logger.Info("session cleanup routine started")

	application.SyncWorker.Start()
	logger.Info("sync worker started")
}

// Shutdown performs graceful shutdown of all services
func Shutdown(application *app.App, logger *slog.Logger) {
	logger.Info("shutting down services...")

	if application.SyncWorker != nil {
		application.SyncWorker.Stop()
		logger.Info("sync worker stopped")
	}

	if application.Registry != nil {
		application.Registry.CloseAll()
	}

	if application.Docs != nil {
		if err := application.Docs.Close(); err != nil {
			logger.Error("failed to close document store", "error", err)
		} else {
			logger.Info("document store closed")
		}
	}
}
