// Package sqlite provides a SQLite-backed ports.Storage. Each service gets
// its own table holding the record as a JSON body next to an indexed
// identifier column; filters and sorting go through json_extract so the
// record shape stays schemaless.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/artpar/plume/pkg/apperr"
	"github.com/artpar/plume/ports"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Open opens (or creates) the database file with the pragmas the service
// layer needs for concurrent readers.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	return db, nil
}

// Store implements ports.Storage over one table.
type Store struct {
	db    *sql.DB
	table string
}

var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// New creates the table (and unique expression indexes for uniqueFields)
// if missing and returns a store bound to it.
func New(db *sql.DB, table string, uniqueFields ...string) (*Store, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (\n  id TEXT PRIMARY KEY,\n  body TEXT NOT NULL,\n  created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP\n)",
		table,
	)
	if _, err := db.Exec(createSQL); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	for _, field := range uniqueFields {
		if !identRe.MatchString(field) {
			return nil, fmt.Errorf("invalid unique field %q", field)
		}
		indexSQL := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_%s ON %s (json_extract(body, '$.%s'))",
			table, field, table, field,
		)
		if _, err := db.Exec(indexSQL); err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
	}

	return &Store{db: db, table: table}, nil
}

// Find returns records matching the query plus the total match count.
func (s *Store) Find(ctx context.Context, q ports.Query) ([]ports.Record, int64, error) {
	where, args, err := buildWhere(q.Filters)
	if err != nil {
		return nil, 0, err
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", s.table, where)
	var total int64
	if err := s.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, storeErr("count", err)
	}

	querySQL := fmt.Sprintf("SELECT body FROM %s%s", s.table, where)

	// Validate the sort field name; ORDER BY cannot be parameterized.
	if q.Sort != "" {
		if !identRe.MatchString(q.Sort) {
			return nil, 0, apperr.Newf(apperr.KindBadRequest, "invalid sort field %q", q.Sort)
		}
		dir := "ASC"
		if q.Desc {
			dir = "DESC"
		}
		querySQL += fmt.Sprintf(" ORDER BY json_extract(body, '$.%s') %s", q.Sort, dir)
	} else {
		querySQL += " ORDER BY rowid ASC"
	}

	if q.Limit > 0 {
		querySQL += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Skip)
	} else if q.Skip > 0 {
		querySQL += fmt.Sprintf(" LIMIT -1 OFFSET %d", q.Skip)
	}

	rows, err := s.db.QueryContext(ctx, querySQL, args...)
	if err != nil {
		return nil, 0, storeErr("find", err)
	}
	defer rows.Close()

	var records []ports.Record
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, 0, storeErr("scan", err)
		}
		rec, err := decodeBody(body)
		if err != nil {
			return nil, 0, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr("find", err)
	}

	return records, total, nil
}

// Get retrieves a record by identifier.
func (s *Store) Get(ctx context.Context, id string) (ports.Record, error) {
	query := fmt.Sprintf("SELECT body FROM %s WHERE id = ?", s.table)

	var body string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&body)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}
	if err != nil {
		return nil, storeErr("get", err)
	}

	return decodeBody(body)
}

// Insert stores a new record, assigning a UUID if data has no id.
func (s *Store) Insert(ctx context.Context, data ports.Record) (ports.Record, error) {
	rec := make(ports.Record, len(data)+1)
	for k, v := range data {
		rec[k] = v
	}
	id, _ := rec["id"].(string)
	if id == "" {
		id = uuid.New().String()
		rec["id"] = id
	}

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "unencodable record", err)
	}

	insertSQL := fmt.Sprintf("INSERT INTO %s (id, body) VALUES (?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, insertSQL, id, string(body)); err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("record violates a uniqueness constraint")
		}
		return nil, storeErr("insert", err)
	}

	return rec, nil
}

// Replace fully replaces a record; the identifier is kept.
func (s *Store) Replace(ctx context.Context, id string, data ports.Record) (ports.Record, error) {
	rec := make(ports.Record, len(data)+1)
	for k, v := range data {
		rec[k] = v
	}
	rec["id"] = id

	body, err := json.Marshal(rec)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindBadRequest, "unencodable record", err)
	}

	updateSQL := fmt.Sprintf("UPDATE %s SET body = ? WHERE id = ?", s.table)
	res, err := s.db.ExecContext(ctx, updateSQL, string(body), id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, apperr.Conflict("record violates a uniqueness constraint")
		}
		return nil, storeErr("replace", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, apperr.NotFoundf("no record with id %q", id)
	}

	return rec, nil
}

// Patch merges fields into an existing record.
func (s *Store) Patch(ctx context.Context, id string, data ports.Record) (ports.Record, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	for k, v := range data {
		if k == "id" {
			continue
		}
		current[k] = v
	}

	return s.Replace(ctx, id, current)
}

// Delete removes a record and returns it; NotFound when already absent.
func (s *Store) Delete(ctx context.Context, id string) (ports.Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE id = ?", s.table)
	res, err := s.db.ExecContext(ctx, deleteSQL, id)
	if err != nil {
		return nil, storeErr("delete", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with a concurrent delete.
		return nil, apperr.NotFoundf("no record with id %q", id)
	}

	return rec, nil
}

var _ ports.Storage = (*Store)(nil)

func buildWhere(filters map[string]any) (string, []any, error) {
	if len(filters) == 0 {
		return "", nil, nil
	}

	var conditions []string
	var args []any
	for field, value := range filters {
		if !identRe.MatchString(field) {
			return "", nil, apperr.Newf(apperr.KindBadRequest, "invalid filter field %q", field)
		}
		conditions = append(conditions, fmt.Sprintf("json_extract(body, '$.%s') = ?", field))
		args = append(args, value)
	}
	return " WHERE " + strings.Join(conditions, " AND "), args, nil
}

func decodeBody(body string) (ports.Record, error) {
	var rec ports.Record
	if err := json.Unmarshal([]byte(body), &rec); err != nil {
		return nil, storeErr("decode", err)
	}
	return rec, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func storeErr(op string, err error) error {
	return apperr.Unavailable("storage "+op+" failed", err)
}
