package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ksharma-xyz/krail-nearby/internal/config"
	"github.com/ksharma-xyz/krail-nearby/internal/handler"
	"github.com/ksharma-xyz/krail-nearby/internal/middleware"
	"github.com/ksharma-xyz/krail-nearby/internal/migrations"
	"github.com/ksharma-xyz/krail-nearby/internal/storage"
)

// DBError represents a database-related error.
type DBError struct {
	Op  string
	Err error
}

func (e *DBError) Error() string {
	return fmt.Sprintf("db error during %q: %v", e.Op, e.Err)
}

func (e *DBError) Unwrap() error { return e.Err }

// App holds the application-level dependencies.
type App struct {
	DB       *pgxpool.Pool // set for the postgres store
	SqliteDB *sql.DB       // set for the sqlite store
	Router   *gin.Engine
	Sessions *handler.Sessions
	cfg      *config.Config

	stopSweep context.CancelFunc
}

// New initializes the application: opens the configured stop store, loads
// the seed file if any, and configures the HTTP engine with routes.
func New(cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		repo storage.StopsRepository
		err  error
	)
	switch cfg.Store {
	case config.StorePostgres:
		repo, err = a.openPostgres(ctx)
	case config.StoreSqlite:
		repo, err = a.openSqlite(ctx)
	case config.StoreMemory:
		repo, err = openMemory(cfg.SeedPath)
	default:
		err = fmt.Errorf("app: unknown store %q", cfg.Store)
	}
	if err != nil {
		a.Shutdown()
		return nil, err
	}

	a.Sessions = handler.NewSessions(repo, cfg.Nearby, cfg.MaxSessions, cfg.SessionIdleTTL, log.Printf)
	a.Router = newEngine(repo, a.Sessions, cfg)

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	a.stopSweep = stopSweep
	go a.Sessions.Sweep(sweepCtx, sweepInterval(cfg.SessionIdleTTL))

	return a, nil
}

func (a *App) openPostgres(ctx context.Context) (storage.StopsRepository, error) {
	poolCfg, err := pgxpool.ParseConfig(a.cfg.DBDSN)
	if err != nil {
		return nil, &DBError{Op: "parse_dsn", Err: err}
	}

	poolCfg.MaxConns = 20
	poolCfg.MaxConnLifetime = 30 * time.Second
	poolCfg.MaxConnIdleTime = 10 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, &DBError{Op: "connect", Err: err}
	}
	a.DB = pool

	if err := pool.Ping(ctx); err != nil {
		return nil, &DBError{Op: "ping", Err: err}
	}
	log.Println("database connection pool established")

	if err := migrations.Run(ctx, pool); err != nil {
		return nil, fmt.Errorf("app: run migrations: %w", err)
	}
	log.Println("database schema up to date")

	if a.cfg.SeedPath != "" {
		stops, err := storage.LoadSeedFile(a.cfg.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := storage.UpsertStops(ctx, pool, stops); err != nil {
			return nil, &DBError{Op: "seed", Err: err}
		}
		log.Printf("seeded %d stops into postgres", len(stops))
	}

	return storage.NewStopsRepository(pool), nil
}

func (a *App) openSqlite(ctx context.Context) (storage.StopsRepository, error) {
	if dir := filepath.Dir(a.cfg.SqlitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("app: create sqlite dir: %w", err)
		}
	}

	db, err := storage.OpenSqlite(ctx, a.cfg.SqlitePath)
	if err != nil {
		return nil, &DBError{Op: "open_sqlite", Err: err}
	}
	a.SqliteDB = db
	repo := storage.NewSqliteStopsRepository(db)

	if a.cfg.SeedPath != "" {
		stops, err := storage.LoadSeedFile(a.cfg.SeedPath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
		if err := repo.Import(ctx, stops); err != nil {
			return nil, &DBError{Op: "seed", Err: err}
		}
		log.Printf("seeded %d stops into %s", len(stops), a.cfg.SqlitePath)
	}
	return repo, nil
}

func openMemory(seedPath string) (storage.StopsRepository, error) {
	stops, err := storage.LoadSeedFile(seedPath)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	idx, skipped := storage.NewMemoryIndex(stops)
	if skipped > 0 {
		log.Printf("skipped %d stops with invalid positions", skipped)
	}
	log.Printf("indexed %d stops in memory", idx.Len())
	return idx, nil
}

// newEngine builds the gin engine; split from New so tests can wire it
// against any repository.
func newEngine(repo storage.StopsRepository, sessions *handler.Sessions, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Timeout(10 * time.Second))

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "sessions": sessions.Len()})
	})

	h := handler.New(repo, sessions, cfg.DefaultRadiusKm, cfg.Nearby.MaxResults)
	h.Register(router.Group("/api/v1"))

	return router
}

// sweepInterval checks for idle sessions four times per TTL, bounded to
// between one second and one minute.
func sweepInterval(idleTTL time.Duration) time.Duration {
	return min(max(idleTTL/4, time.Second), time.Minute)
}

// Shutdown cancels every viewport session and closes the stores.
func (a *App) Shutdown() {
	if a.stopSweep != nil {
		a.stopSweep()
	}
	if a.Sessions != nil {
		a.Sessions.CloseAll()
	}
	if a.DB != nil {
		a.DB.Close()
		log.Println("database connection pool closed")
	}
	if a.SqliteDB != nil {
		if err := a.SqliteDB.Close(); err != nil {
			log.Printf("sqlite close: %v", err)
		}
	}
}
