package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	alarms "alarm-engine/internal/alarms/domain"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the bundled schema. Statements are idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	if db == nil {
		return errors.New("alarm migrate: nil db")
	}
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("alarm migrate %s: %w", name, err)
		}
	}
	return nil
}

// mapError classifies driver errors; unique violations become conflicts.
func mapError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return alarms.Conflictf(format, args...)
	}
	return err
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	out := v.Time.UTC()
	return &out
}

type scanner interface {
	Scan(dest ...any) error
}

type queryBuilder struct {
	where []string
	args  []any
}

func (b *queryBuilder) add(clause string, arg any) {
	b.args = append(b.args, arg)
	b.where = append(b.where, fmt.Sprintf(clause, len(b.args)))
}

func (b *queryBuilder) addRaw(clause string) {
	b.where = append(b.where, clause)
}

func (b *queryBuilder) clause() string {
	if len(b.where) == 0 {
		return ""
	}
	out := " WHERE " + b.where[0]
	for _, w := range b.where[1:] {
		out += " AND " + w
	}
	return out
}
