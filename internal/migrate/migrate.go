// Package migrate applies the SQL schema compiled into the binary.
package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

//go:embed sql/*.sql
var embedded embed.FS

// Scripts returns the migration scripts shipped with this build.
func Scripts() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

const defaultTable = "schema_migrations"

// Runner applies versioned migrations from an fs.FS against a database.
// Scripts are ordered by file name; each *.up.sql may have a matching
// *.down.sql for rollback.
type Runner struct {
	db    *sql.DB
	src   fs.FS
	table string
}

type Option func(*Runner)

// WithTable overrides the bookkeeping table name.
func WithTable(name string) Option {
	return func(r *Runner) {
		if name != "" {
			r.table = name
		}
	}
}

func NewRunner(db *sql.DB, src fs.FS, opts ...Option) *Runner {
	r := &Runner{db: db, src: src, table: defaultTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record is one applied migration.
type Record struct {
	Name      string
	AppliedAt time.Time
}

// Up applies every pending migration in order and returns the names it ran.
func (r *Runner) Up(ctx context.Context) ([]string, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	names, err := r.scriptNames(".up.sql")
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := r.runScript(ctx, name); err != nil {
			return ran, fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := r.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, r.table),
			name, time.Now().UTC()); err != nil {
			return ran, err
		}
		ran = append(ran, name)
	}
	return ran, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (r *Runner) Down(ctx context.Context) (string, error) {
	if err := r.ensureTable(ctx); err != nil {
		return "", err
	}
	history, err := r.Status(ctx)
	if err != nil {
		return "", err
	}
	if len(history) == 0 {
		return "", errors.New("nothing to roll back")
	}
	last := history[len(history)-1].Name
	down := strings.TrimSuffix(last, ".up.sql") + ".down.sql"
	if _, err := fs.Stat(r.src, down); err != nil {
		return "", fmt.Errorf("no rollback script for %s", last)
	}
	if err := r.runScript(ctx, down); err != nil {
		return "", fmt.Errorf("roll back %s: %w", last, err)
	}
	if _, err := r.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, r.table), last); err != nil {
		return "", err
	}
	return last, nil
}

// Status returns applied migrations in application order.
func (r *Runner) Status(ctx context.Context) ([]Record, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s order by applied_at, name`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Name, &rec.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Pending returns the up scripts that have not been applied yet.
func (r *Runner) Pending(ctx context.Context) ([]string, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	done, err := r.applied(ctx)
	if err != nil {
		return nil, err
	}
	names, err := r.scriptNames(".up.sql")
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		if !done[name] {
			out = append(out, name)
		}
	}
	return out, nil
}

func (r *Runner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, r.table))
	return err
}

func (r *Runner) applied(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	done := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		done[name] = true
	}
	return done, rows.Err()
}

func (r *Runner) scriptNames(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(r.src, ".")
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// runScript executes one script inside a transaction, statement by
// statement.
func (r *Runner) runScript(ctx context.Context, name string) error {
	body, err := fs.ReadFile(r.src, name)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// splitStatements cuts a script at semicolons that sit outside
// single-quoted literals. Good enough for DDL; not a SQL parser.
func splitStatements(script string) []string {
	var (
		out     []string
		current strings.Builder
		inQuote bool
	)
	for _, r := range script {
		if r == '\'' {
			inQuote = !inQuote
		}
		if r == ';' && !inQuote {
			if s := strings.TrimSpace(current.String()); s != "" {
				out = append(out, s)
			}
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		out = append(out, s)
	}
	return out
}
