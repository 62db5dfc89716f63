package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/numbershop/core/config"
	coredatabase "github.com/m3rciful/numbershop/core/database"
	"github.com/m3rciful/numbershop/core/logger"
)

// Options control the bootstrap pipeline: logger, database, migrations, seeders.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	Seeders  []Seeder

	LoggerInit func(*coreconfig.Config) error
	Connect    func(coredatabase.Config) (*sqlx.DB, error)
	Migrate    func(coredatabase.Config) error
}

// Result exposes infrastructure initialized by Run.
type Result struct {
	DB *sqlx.DB
	Tx *coredatabase.TxRunner
}

// Run initializes the logger, connects to the database, applies migrations and runs seeders.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	if err := runSeeders(ctx, db, opts.Seeders); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Result{DB: db, Tx: coredatabase.NewTxRunner(db, opts.Database.LockTimeout())}, nil
}

func runSeeders(ctx context.Context, db *sqlx.DB, seeders []Seeder) error {
	for _, s := range seeders {
		start := time.Now()
		n, err := s.Seed(ctx, db)
		if err != nil {
			logger.SEED.Error("seed failed",
				slog.String("event", "seed"),
				slog.String("seeder", s.Name()),
				slog.String("err", err.Error()),
			)
			return fmt.Errorf("bootstrap: seeder %s failed: %w", s.Name(), err)
		}
		logger.SEED.Info("seeded",
			slog.String("event", "seed"),
			slog.String("seeder", s.Name()),
			slog.Int("count", n),
			slog.Duration("duration", logger.Took(start)),
		)
	}
	return nil
}
