package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/digistore-backend/pkg/logger"
)

// gormLogger reports slow statements and SQL errors through the service
// logger, carrying the request fields on ctx. Record-not-found is expected
// control flow and never logged.
type gormLogger struct {
	logg *logger.Logger
	slow time.Duration
}

func newGormLogger(logg *logger.Logger, slow time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &gormLogger{logg: logg, slow: slow}
}

func (g *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *gormLogger) Info(context.Context, string, ...any) {}

func (g *gormLogger) Warn(ctx context.Context, msg string, _ ...any) {
	g.logg.Warn(ctx, "gorm: "+msg)
}

func (g *gormLogger) Error(ctx context.Context, msg string, _ ...any) {
	g.logg.Warn(ctx, "gorm error: "+msg)
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	took := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
			"sql": sql, "rows": rows, "duration_ms": took.Milliseconds(), "error": err.Error(),
		}), "sql statement failed")
	case g.slow > 0 && took > g.slow:
		sql, rows := fc()
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
			"sql": sql, "rows": rows, "duration_ms": took.Milliseconds(),
		}), "slow sql statement")
	}
}

// ParamsFilter keeps bound values (stock credentials among them) out of
// logged SQL.
func (g *gormLogger) ParamsFilter(_ context.Context, sql string, _ ...any) (string, []any) {
	return sql, nil
}
