// Package record is a small CRUD layer over one table whose columns are fixed
// at compile time. Only fillable columns are ever written, and every piece of
// dynamic SQL text (sort column, direction, limit, offset) is checked before it
// is placed into a query.
package record

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"salecore/internal/domain"
)

const MaxLimit = 1000

var identPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

type Table struct {
	Name       string
	PrimaryKey string
	Columns    []string
	Fillable   []string
}

func (t Table) hasColumn(col string) bool {
	return slices.Contains(t.Columns, col)
}

func (t Table) fillable(col string) bool {
	return slices.Contains(t.Fillable, col)
}

// Record is one row keyed by column name.
type Record map[string]any

// Filter is an equality filter; all entries are ANDed.
type Filter map[string]any

type Order struct {
	Column    string
	Direction string
}

// ParseOrder reads "column" or "column direction".
func ParseOrder(raw string) Order {
	fields := strings.Fields(raw)
	switch len(fields) {
	case 0:
		return Order{}
	case 1:
		return Order{Column: fields[0]}
	default:
		return Order{Column: fields[0], Direction: fields[1]}
	}
}

// DBTX is satisfied by *sqlx.DB and *sqlx.Tx.
type DBTX interface {
	sqlx.ExtContext
}

type Store struct {
	db    DBTX
	table Table
}

func New(db DBTX, table Table) *Store {
	return &Store{db: db, table: table}
}

func (s *Store) Find(ctx context.Context, id any) (Record, error) {
	query := sqlx.Rebind(sqlx.DOLLAR, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s = ?",
		strings.Join(s.table.Columns, ", "), s.table.Name, s.table.PrimaryKey,
	))
	rec := Record{}
	if err := s.db.QueryRowxContext(ctx, query, id).MapScan(rec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(s.table.Name, id)
		}
		return nil, domain.Persistence(s.table.Name, id, err)
	}
	return rec, nil
}

func (s *Store) FindAll(ctx context.Context, filter Filter, order Order, limit, offset int) ([]Record, error) {
	query, args, err := s.selectQuery(filter, order, limit, offset)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence(s.table.Name, nil, err)
	}
	defer rows.Close()

	out := make([]Record, 0, 16)
	for rows.Next() {
		rec := Record{}
		if err := rows.MapScan(rec); err != nil {
			return nil, domain.Persistence(s.table.Name, nil, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence(s.table.Name, nil, err)
	}
	return out, nil
}

// Create inserts the fillable subset of fields and returns the new primary key.
func (s *Store) Create(ctx context.Context, fields Record) (int64, error) {
	query, args, err := s.insertQuery(fields)
	if err != nil {
		return 0, err
	}
	var id int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, domain.Persistence(s.table.Name, nil, err)
	}
	return id, nil
}

func (s *Store) Update(ctx context.Context, id any, fields Record) error {
	query, args, err := s.updateQuery(id, fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return domain.Persistence(s.table.Name, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence(s.table.Name, id, err)
	}
	if affected == 0 {
		return domain.NotFound(s.table.Name, id)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id any) error {
	query := sqlx.Rebind(sqlx.DOLLAR, fmt.Sprintf("DELETE FROM %s WHERE %s = ?", s.table.Name, s.table.PrimaryKey))
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return domain.Persistence(s.table.Name, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Persistence(s.table.Name, id, err)
	}
	if affected == 0 {
		return domain.NotFound(s.table.Name, id)
	}
	return nil
}

func (s *Store) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args, err := s.whereClause(filter)
	if err != nil {
		return 0, err
	}
	query := sqlx.Rebind(sqlx.DOLLAR, "SELECT COUNT(*) FROM "+s.table.Name+where)
	var n int64
	if err := s.db.QueryRowxContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, domain.Persistence(s.table.Name, nil, err)
	}
	return n, nil
}

func (s *Store) selectQuery(filter Filter, order Order, limit, offset int) (string, []any, error) {
	where, args, err := s.whereClause(filter)
	if err != nil {
		return "", nil, err
	}
	orderBy, err := s.orderClause(order)
	if err != nil {
		return "", nil, err
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(s.table.Columns, ", "))
	b.WriteString(" FROM ")
	b.WriteString(s.table.Name)
	b.WriteString(where)
	b.WriteString(orderBy)
	b.WriteString(pagingClause(limit, offset))
	return sqlx.Rebind(sqlx.DOLLAR, b.String()), args, nil
}

func (s *Store) insertQuery(fields Record) (string, []any, error) {
	cols, args := s.fillableFields(fields)
	if len(cols) == 0 {
		return "", nil, domain.Validation(s.table.Name, nil, "no fillable fields")
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
		s.table.Name, strings.Join(cols, ", "), marks, s.table.PrimaryKey)
	return sqlx.Rebind(sqlx.DOLLAR, query), args, nil
}

func (s *Store) updateQuery(id any, fields Record) (string, []any, error) {
	cols, args := s.fillableFields(fields)
	if len(cols) == 0 {
		return "", nil, domain.Validation(s.table.Name, id, "no fillable fields")
	}
	sets := make([]string, 0, len(cols)+1)
	for _, col := range cols {
		sets = append(sets, col+" = ?")
	}
	if s.table.hasColumn("updated_at") && !slices.Contains(cols, "updated_at") {
		sets = append(sets, "updated_at = now()")
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", s.table.Name, strings.Join(sets, ", "), s.table.PrimaryKey)
	return sqlx.Rebind(sqlx.DOLLAR, query), args, nil
}

// fillableFields drops every key that is not whitelisted. Columns come back in
// sorted order so generated SQL is stable.
func (s *Store) fillableFields(fields Record) ([]string, []any) {
	cols := make([]string, 0, len(fields))
	for col := range fields {
		if s.table.fillable(col) {
			cols = append(cols, col)
		}
	}
	sort.Strings(cols)
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		args = append(args, fields[col])
	}
	return cols, args
}

func (s *Store) whereClause(filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}
	cols := make([]string, 0, len(filter))
	for col := range filter {
		if !identPattern.MatchString(col) || !s.table.hasColumn(col) {
			return "", nil, domain.Validation(s.table.Name, nil, "unknown filter column %q", col)
		}
		cols = append(cols, col)
	}
	sort.Strings(cols)
	parts := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols))
	for _, col := range cols {
		if filter[col] == nil {
			parts = append(parts, col+" IS NULL")
			continue
		}
		parts = append(parts, col+" = ?")
		args = append(args, filter[col])
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func (s *Store) orderClause(order Order) (string, error) {
	if order.Column == "" {
		return "", nil
	}
	if !identPattern.MatchString(order.Column) || !s.table.hasColumn(order.Column) {
		return "", domain.Validation(s.table.Name, nil, "invalid order column %q", order.Column)
	}
	dir := strings.ToUpper(strings.TrimSpace(order.Direction))
	if dir == "" {
		dir = "ASC"
	}
	if dir != "ASC" && dir != "DESC" {
		return "", domain.Validation(s.table.Name, nil, "invalid order direction %q", order.Direction)
	}
	return " ORDER BY " + order.Column + " " + dir, nil
}

// pagingClause only ever writes integers produced by strconv. A non-positive
// limit means no limit; limits are capped at MaxLimit and negative offsets
// become zero.
func pagingClause(limit, offset int) string {
	var b strings.Builder
	if limit > 0 {
		if limit > MaxLimit {
			limit = MaxLimit
		}
		b.WriteString(" LIMIT ")
		b.WriteString(strconv.Itoa(limit))
	}
	if offset > 0 {
		b.WriteString(" OFFSET ")
		b.WriteString(strconv.Itoa(offset))
	}
	return b.String()
}
