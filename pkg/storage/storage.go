// Package storage provides common storage interfaces and utilities shared
// by the ledger, account, and contract stores.
package storage

import (
	"context"
	"database/sql"
)

// Scanner abstracts row scanning for database results.
type Scanner interface {
	Scan(dest ...any) error
}

// Querier abstracts database query execution.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DBProvider provides access to the underlying database connection.
type DBProvider interface {
	DB() *sql.DB
	Querier(ctx context.Context) Querier
}

// TxStore provides transaction support for stores.
type TxStore interface {
	BeginTx(ctx context.Context) (context.Context, error)
	CommitTx(ctx context.Context) error
	RollbackTx(ctx context.Context) error
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination holds pagination parameters.
type Pagination struct {
	Limit  int
	Offset int
}

// DefaultPagination returns default pagination settings.
func DefaultPagination() Pagination {
	return Pagination{
		Limit:  50,
		Offset: 0,
	}
}

// Normalize ensures pagination values are within acceptable bounds.
func (p Pagination) Normalize(maxLimit int) Pagination {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > maxLimit {
		p.Limit = maxLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// ListResult wraps a list response with pagination metadata.
type ListResult[T any] struct {
	Items   []T   `json:"items"`
	Total   int64 `json:"total"`
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	HasMore bool  `json:"has_more"`
}

// NewListResult creates a ListResult from items and pagination info.
func NewListResult[T any](items []T, total int64, limit, offset int) ListResult[T] {
	return ListResult[T]{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: int64(offset+len(items)) < total,
	}
}

// Filter represents a query filter condition compiled by the search core.
type Filter struct {
	Field    string
	Operator string // =, !=, <, >, <=, >=, LIKE, IN, IS NULL, IS NOT NULL
	Value    any
}

// FilterSet is a collection of filters.
type FilterSet []Filter

// Add appends a filter to the set.
func (fs *FilterSet) Add(field, operator string, value any) {
	*fs = append(*fs, Filter{Field: field, Operator: operator, Value: value})
}

// Eq adds an equality filter.
func (fs *FilterSet) Eq(field string, value any) { fs.Add(field, "=", value) }

// NotEq adds a not-equal filter.
func (fs *FilterSet) NotEq(field string, value any) { fs.Add(field, "!=", value) }

// Like adds a LIKE filter.
func (fs *FilterSet) Like(field string, pattern string) { fs.Add(field, "LIKE", pattern) }

// In adds an IN filter.
func (fs *FilterSet) In(field string, values any) { fs.Add(field, "IN", values) }

// IsNull adds an IS NULL filter.
func (fs *FilterSet) IsNull(field string) { fs.Add(field, "IS NULL", nil) }

// IsNotNull adds an IS NOT NULL filter.
func (fs *FilterSet) IsNotNull(field string) { fs.Add(field, "IS NOT NULL", nil) }

// SortOrder represents a sort direction.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// Sort represents a sort specification.
type Sort struct {
	Field string
	Order SortOrder
}

// SortSet is a collection of sort specifications.
type SortSet []Sort

// Add appends a sort specification.
func (ss *SortSet) Add(field string, order SortOrder) {
	*ss = append(*ss, Sort{Field: field, Order: order})
}

// Asc adds an ascending sort.
func (ss *SortSet) Asc(field string) { ss.Add(field, SortAsc) }

// Desc adds a descending sort.
func (ss *SortSet) Desc(field string) { ss.Add(field, SortDesc) }

// QueryOptions combines filters, sorting, and pagination for a search.
type QueryOptions struct {
	Filters    FilterSet
	Sorts      SortSet
	Pagination Pagination
}

// NewQueryOptions creates QueryOptions with defaults.
func NewQueryOptions() QueryOptions {
	return QueryOptions{
		Pagination: DefaultPagination(),
	}
}
