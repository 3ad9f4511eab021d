package db

import (
	"context"

	"github.com/go-pg/pg/v10"
	"github.com/go-pg/pg/v10/orm"
)

const (
	SortAsc  = "asc"
	SortDesc = "desc"
)

var (
	PagerNoLimit = Pager{}
	PagerOne     = Pager{PageSize: 1}
	PagerTwo     = Pager{PageSize: 2}
)

// OpFunc modifies query before execution.
type OpFunc func(q *orm.Query)

// Searcher applies its non-nil fields to the query.
type Searcher interface {
	Apply(q *orm.Query) *orm.Query
}

// Filter is a base condition applied to every query of a table.
type Filter struct {
	Field string
	Value interface{}
}

func (f Filter) Apply(q *orm.Query) *orm.Query {
	return q.Where("?TableAlias.? = ?", pg.Ident(f.Field), f.Value)
}

// SortField describes one ORDER BY item.
type SortField struct {
	Column    string
	Direction string
}

// NewSortField returns SortField, desc=true for descending order.
func NewSortField(column string, desc bool) SortField {
	d := SortAsc
	if desc {
		d = SortDesc
	}
	return SortField{Column: column, Direction: d}
}

// Pager is a page/pageSize pair. Zero PageSize means no limit.
type Pager struct {
	Page     int
	PageSize int
}

func (p Pager) Apply(q *orm.Query) *orm.Query {
	if p.PageSize <= 0 {
		return q
	}
	page := p.Page
	if page < 1 {
		page = 1
	}
	return q.Limit(p.PageSize).Offset((page - 1) * p.PageSize)
}

// WithColumns restricts selected columns.
func WithColumns(cols ...string) OpFunc {
	return func(q *orm.Query) {
		for _, c := range cols {
			q.Column(c)
		}
	}
}

// WithSort adds ORDER BY.
func WithSort(fields ...SortField) OpFunc {
	return func(q *orm.Query) {
		for _, f := range fields {
			dir := SortAsc
			if f.Direction == SortDesc {
				dir = SortDesc
			}
			q.OrderExpr("?TableAlias.? "+dir, pg.Ident(f.Column))
		}
	}
}

// WithForUpdate locks selected rows until the transaction ends.
func WithForUpdate() OpFunc {
	return func(q *orm.Query) {
		q.For("UPDATE")
	}
}

func applyOps(q *orm.Query, ops ...OpFunc) *orm.Query {
	for _, op := range ops {
		op(q)
	}
	return q
}

func buildQuery(ctx context.Context, db orm.DB, model interface{}, search Searcher, filters []Filter, pager Pager, ops ...OpFunc) *orm.Query {
	q := db.ModelContext(ctx, model)
	for _, f := range filters {
		f.Apply(q)
	}
	if search != nil {
		q = search.Apply(q)
	}
	q = pager.Apply(q)
	return applyOps(q, ops...)
}
