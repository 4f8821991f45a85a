package postgres

import (
	"context"
	"embed"

	"github.com/evkernel/evkernel/pkg/migration"
	"github.com/evkernel/evkernel/pkg/observability"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Migrate runs every pending schema migration against cfg.DSN. It reads
// from the adapter's migrations compiled into the binary, or from
// cfg.MigrationsSource when set (a "file://" URL, for a local override
// during development).
func Migrate(ctx context.Context, cfg Config, o11y observability.Observability) error {
	opts := []migration.Option{
		migration.WithDriver(migration.DriverPostgres),
		migration.WithDSN(cfg.DSN),
		migration.WithLogger(newMigrationLogger(o11y)),
		migration.WithDatabaseName("evkernel"),
	}

	var m *migration.Migrator
	var err error
	if cfg.MigrationsSource != "" {
		m, err = migration.New(append(opts, migration.WithSource(cfg.MigrationsSource))...)
	} else {
		m, err = migration.NewWithFS(migrationFiles, "migrations", opts...)
	}
	if err != nil {
		return &ConnectError{Op: "Migrate", Err: err}
	}
	defer m.Close()

	if err := m.Up(ctx); err != nil {
		return &ConnectError{Op: "Migrate", Err: err}
	}
	return nil
}

// migrationLogger adapts observability.Logger to migration.Logger; the two
// interfaces are shape-compatible but use distinct Field types.
type migrationLogger struct {
	o11y observability.Observability
}

func newMigrationLogger(o11y observability.Observability) migration.Logger {
	if o11y == nil {
		return migration.NewNoopLogger()
	}
	return &migrationLogger{o11y: o11y}
}

func (l *migrationLogger) convert(fields []migration.Field) []observability.Field {
	out := make([]observability.Field, len(fields))
	for i, f := range fields {
		out[i] = observability.Field{Key: f.Key, Value: f.Value}
	}
	return out
}

func (l *migrationLogger) Debug(ctx context.Context, msg string, fields ...migration.Field) {
	l.o11y.Logger().Debug(ctx, msg, l.convert(fields)...)
}

func (l *migrationLogger) Info(ctx context.Context, msg string, fields ...migration.Field) {
	l.o11y.Logger().Info(ctx, msg, l.convert(fields)...)
}

func (l *migrationLogger) Warn(ctx context.Context, msg string, fields ...migration.Field) {
	l.o11y.Logger().Warn(ctx, msg, l.convert(fields)...)
}

func (l *migrationLogger) Error(ctx context.Context, msg string, fields ...migration.Field) {
	l.o11y.Logger().Error(ctx, msg, l.convert(fields)...)
}
