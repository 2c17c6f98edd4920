// Package deskdb is the boundary to the desktop database that turns the raw
// attendee export into CRM and marketing-DB upload candidates.
//
// The pipeline only needs four operations from it. The SQLite adapter backs
// them with SQL kept in configuration: procedures and forms are named
// statements, tables are ordinary SQLite tables.
package deskdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/TobiSchelling/demoproc/internal/table"

	_ "modernc.org/sqlite"
)

// MaxColumnName is the longest column name the database accepts.
const MaxColumnName = 25

// Database is the external desktop database.
type Database interface {
	// Execute runs a named stored procedure.
	Execute(ctx context.Context, procedure string) error
	// BulkLoad replaces table with the contents of data.
	BulkLoad(ctx context.Context, data *table.Dataset, tableName string) error
	// RunForm fills a bound form with params in order and runs its action.
	RunForm(ctx context.Context, form string, params ...string) error
	// ExportTable returns every row of a table.
	ExportTable(ctx context.Context, name string) (*table.Dataset, error)
}

// SQLite implements Database over a SQLite file.
type SQLite struct {
	conn       *sql.DB
	procedures map[string]string
	forms      map[string]string
}

// Open opens (creating if needed) the database file at path.
func Open(path string, procedures, forms map[string]string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening desktop database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configuring desktop database: %w", err)
	}
	return New(conn, procedures, forms), nil
}

// New wraps an open connection.
func New(conn *sql.DB, procedures, forms map[string]string) *SQLite {
	return &SQLite{conn: conn, procedures: procedures, forms: forms}
}

// Close closes the connection.
func (s *SQLite) Close() error {
	return s.conn.Close()
}

// Execute implements Database.
func (s *SQLite) Execute(ctx context.Context, procedure string) error {
	stmt, ok := s.procedures[procedure]
	if !ok || strings.TrimSpace(stmt) == "" {
		return fmt.Errorf("procedure %s does not exist", procedure)
	}
	if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("running %s: %w", procedure, err)
	}
	return nil
}

// BulkLoad implements Database. Column names are shortened and redundant
// columns dropped first; see Prepare.
func (s *SQLite) BulkLoad(ctx context.Context, data *table.Dataset, tableName string) error {
	data = Prepare(data)
	if len(data.Columns) == 0 {
		return fmt.Errorf("bulk load %s: dataset has no columns", tableName)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("bulk load %s: %w", tableName, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(tableName)); err != nil {
		return fmt.Errorf("bulk load %s: %w", tableName, err)
	}

	cols := make([]string, len(data.Columns))
	marks := make([]string, len(data.Columns))
	for i, c := range data.Columns {
		cols[i] = quote(c) + " TEXT"
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quote(tableName), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("bulk load %s: %w", tableName, err)
	}

	insert, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quote(tableName), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("bulk load %s: %w", tableName, err)
	}
	defer insert.Close()

	for _, rec := range data.Records() {
		args := make([]any, len(rec))
		for i, v := range rec {
			args[i] = v
		}
		if _, err := insert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("bulk load %s: %w", tableName, err)
		}
	}
	return tx.Commit()
}

// RunForm implements Database. The form's SQL sees the parameters as :p1,
// :p2 and so on; statements are separated by ";" at the end of a line.
func (s *SQLite) RunForm(ctx context.Context, form string, params ...string) error {
	body, ok := s.forms[form]
	if !ok || strings.TrimSpace(body) == "" {
		return fmt.Errorf("could not fill form %s: no definition", form)
	}

	args := make([]any, len(params))
	for i, p := range params {
		args[i] = sql.Named("p"+strconv.Itoa(i+1), p)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("form %s: %w", form, err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return fmt.Errorf("form %s: %w", form, err)
		}
	}
	return tx.Commit()
}

// ExportTable implements Database.
func (s *SQLite) ExportTable(ctx context.Context, name string) (*table.Dataset, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT * FROM "+quote(name))
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("exporting %s: %w", name, err)
	}

	out := table.New(cols...)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("exporting %s: %w", name, err)
		}
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[c] = text(vals[i])
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("exporting %s: %w", name, err)
	}
	return out, nil
}

// Prepare shortens column names to MaxColumnName characters and drops every
// column whose value, in each row, repeats a value from an earlier column.
func Prepare(data *table.Dataset) *table.Dataset {
	n := len(data.Columns)
	keep := make([]bool, n)
	for j := range data.Columns {
		keep[j] = data.Len() == 0 || j == 0 || !redundant(data, j)
	}

	used := map[string]bool{}
	var cols []string
	rename := map[string]string{}
	for j, c := range data.Columns {
		if !keep[j] {
			continue
		}
		name := shorten(c, used)
		used[name] = true
		rename[c] = name
		cols = append(cols, name)
	}

	out := table.New(cols...)
	for _, r := range data.Rows {
		row := make(table.Row, len(cols))
		for from, to := range rename {
			row[to] = r[from]
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

func redundant(data *table.Dataset, j int) bool {
	col := data.Columns[j]
	for _, r := range data.Rows {
		dup := false
		for _, earlier := range data.Columns[:j] {
			if r[earlier] == r[col] {
				dup = true
				break
			}
		}
		if !dup {
			return false
		}
	}
	return true
}

func shorten(name string, used map[string]bool) string {
	r := []rune(name)
	if len(r) > MaxColumnName {
		r = r[:MaxColumnName]
	}
	base := string(r)
	if !used[base] {
		return base
	}
	for i := 2; ; i++ {
		suffix := "_" + strconv.Itoa(i)
		cut := []rune(base)
		if len(cut)+len(suffix) > MaxColumnName {
			cut = cut[:MaxColumnName-len(suffix)]
		}
		if candidate := string(cut) + suffix; !used[candidate] {
			return candidate
		}
	}
}

func splitStatements(body string) []string {
	var out []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		cur.WriteString(line)
		cur.WriteString("\n")
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if s := strings.TrimSpace(cur.String()); s != ";" {
				out = append(out, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		out = append(out, s)
	}
	return out
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case time.Time:
		return t.Format("1/2/2006")
	}
	return fmt.Sprint(v)
}
