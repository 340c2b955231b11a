package database

import (
	"fmt"
	"strings"

	"github.com/huandu/go-sqlbuilder"
)

func Excluded(column string) any {
	return sqlbuilder.Raw(fmt.Sprintf("EXCLUDED.%s", column))
}

type InsertBuilder struct {
	*sqlbuilder.InsertBuilder
}

func NewInsertBuilder() *InsertBuilder {
	return &InsertBuilder{
		sqlbuilder.PostgreSQL.NewInsertBuilder(),
	}
}

// OnConflict appends "ON CONFLICT (columns) DO UPDATE" and returns the builder for the SET clause.
func (b *InsertBuilder) OnConflict(columns ...string) *UpdateBuilder {
	ub := NewUpdateBuilder()
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO UPDATE %s", strings.Join(columns, ", "), b.Var(ub)))

	return ub
}

// OnConflictDoNothing ignores conflicts on the given columns only, so that
// violations of any other unique constraint still surface as errors.
func (b *InsertBuilder) OnConflictDoNothing(columns ...string) *InsertBuilder {
	if len(columns) == 0 {
		b.SQL("ON CONFLICT DO NOTHING")
		return b
	}
	b.SQL(fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", strings.Join(columns, ", ")))
	return b
}

func (ib *InsertBuilder) InsertInto(table string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.InsertInto(table)}
}

func (ib *InsertBuilder) Cols(col ...string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Cols(col...)}
}

func (ib *InsertBuilder) Values(value ...any) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Values(value...)}
}

func (ib *InsertBuilder) Returning(col ...string) *InsertBuilder {
	return &InsertBuilder{ib.InsertBuilder.Returning(col...)}
}

type UpdateBuilder struct {
	*sqlbuilder.UpdateBuilder
}

func NewUpdateBuilder() *UpdateBuilder {
	return &UpdateBuilder{sqlbuilder.PostgreSQL.NewUpdateBuilder()}
}

// IsDistinctFrom renders "(col1, col2) IS DISTINCT FROM ($1, $2)", a null-aware row comparison.
func (ub *UpdateBuilder) IsDistinctFrom(columns []string, values []any) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = ub.Var(v)
	}
	return fmt.Sprintf("(%s) IS DISTINCT FROM (%s)", strings.Join(columns, ", "), strings.Join(placeholders, ", "))
}

type SelectBuilder struct {
	*sqlbuilder.SelectBuilder
}

func NewSelectBuilder() *SelectBuilder {
	return &SelectBuilder{sqlbuilder.PostgreSQL.NewSelectBuilder()}
}
