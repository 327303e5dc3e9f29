// Package sqlquery builds SQL for filter predicates with squirrel.
package sqlquery

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"

	"filterspec/internal/criteria"
	"filterspec/internal/metadata"
)

// Query is one SELECT over an entity. It is the criteria root: the main
// query and its count query must be separate values.
type Query struct {
	entity   *metadata.Entity
	alias    string
	joins    []*Join
	distinct bool
}

func (q *Query) QueryRoot() criteria.Root { return q }
func (q *Query) Entity() string           { return q.entity.Name }

// Alias is the name columns of the root entity are qualified with.
func (q *Query) Alias() string { return q.alias }

// Distinct reports whether the query selects distinct rows.
func (q *Query) Distinct() bool { return q.distinct }

// Joins returns the joins in the order they were created.
func (q *Query) Joins() []*Join { return q.joins }

// Join is a relationship join of a Query.
type Join struct {
	root    *Query
	parent  string // alias of the parent
	alias   string
	nav     metadata.Navigation
	entity  *metadata.Entity
	kind    criteria.JoinKind
	purpose criteria.Purpose
}

func (j *Join) QueryRoot() criteria.Root { return j.root }
func (j *Join) Alias() string            { return j.alias }
func (j *Join) ToMany() bool             { return j.nav.ToMany() }

func (j *Join) Purpose() criteria.Purpose { return j.purpose }

// Target is the joined entity.
func (j *Join) Target() *metadata.Entity { return j.entity }

// clauses renders the JOIN clauses; many-to-many relations go through the
// join table.
func (j *Join) clauses() []string {
	kw := strings.ToUpper(string(j.kind)) + " JOIN"
	from, to := j.nav.Keys()

	if !j.nav.Relation.IsManyToMany() {
		on := fmt.Sprintf("%s.%s = %s.%s", j.alias, to, j.parent, from)
		return []string{fmt.Sprintf("%s %s %s ON %s%s", kw, j.entity.Table, j.alias, on, softDeleted(j.entity, j.alias, " AND "))}
	}

	link := j.alias + "_link"
	linkFrom, linkTo := j.nav.JoinKeys()
	return []string{
		fmt.Sprintf("%s %s %s ON %s.%s = %s.%s",
			kw, j.nav.Relation.JoinTable, link, link, linkFrom, j.parent, from),
		fmt.Sprintf("%s %s %s ON %s.%s = %s.%s%s",
			kw, j.entity.Table, j.alias, j.alias, to, link, linkTo, softDeleted(j.entity, j.alias, " AND ")),
	}
}

func softDeleted(e *metadata.Entity, alias, prefix string) string {
	if !e.SoftDelete {
		return ""
	}
	return prefix + alias + ".deleted_at IS NULL"
}

// Sort orders by a root attribute.
type Sort struct {
	Field string
	Desc  bool
}

// Page limits the selected rows. A zero Limit selects everything.
type Page struct {
	Sorts  []Sort
	Limit  int
	Offset int
}

// columns returns the root columns followed by the columns of fetch joins,
// which are aliased "<alias>__<field>".
func (q *Query) columns() []string {
	cols := make([]string, 0, len(q.entity.Fields)+1)
	pk := q.entity.PrimaryKeyField()
	if !q.entity.HasField(pk) {
		cols = append(cols, q.alias+"."+pk)
	}
	for _, f := range q.entity.FieldNames() {
		cols = append(cols, q.alias+"."+f)
	}
	for _, j := range q.joins {
		if !j.purpose.Has(criteria.Fetch) {
			continue
		}
		for _, f := range j.entity.FieldNames() {
			cols = append(cols, fmt.Sprintf("%s.%s AS %s__%s", j.alias, f, j.alias, f))
		}
	}
	return cols
}

func (q *Query) from(b sq.SelectBuilder, where criteria.Predicate) (sq.SelectBuilder, error) {
	b = b.From(q.table())
	for _, j := range q.joins {
		for _, c := range j.clauses() {
			b = b.JoinClause(c)
		}
	}
	if q.entity.SoftDelete {
		b = b.Where(q.alias + ".deleted_at IS NULL")
	}
	if where != nil {
		s, ok := where.(sq.Sqlizer)
		if !ok {
			return b, fmt.Errorf("predicate %T is not SQL", where)
		}
		b = b.Where(s)
	}
	return b, nil
}

func (q *Query) table() string {
	if q.alias == q.entity.Table {
		return q.entity.Table
	}
	return q.entity.Table + " " + q.alias
}

// SelectSQL renders the query. where may be nil.
func (q *Query) SelectSQL(where criteria.Predicate, page Page, format sq.PlaceholderFormat) (string, []any, error) {
	b := sq.Select(q.columns()...)
	if q.distinct {
		b = b.Distinct()
	}
	b, err := q.from(b, where)
	if err != nil {
		return "", nil, err
	}
	for _, s := range page.Sorts {
		if !q.entity.HasField(s.Field) && s.Field != q.entity.PrimaryKeyField() {
			return "", nil, fmt.Errorf("unknown sort field %q on %s", s.Field, q.entity.Name)
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		b = b.OrderBy(fmt.Sprintf("%s.%s %s", q.alias, s.Field, dir))
	}
	if page.Limit > 0 {
		b = b.Limit(uint64(page.Limit))
		if page.Offset > 0 {
			b = b.Offset(uint64(page.Offset))
		}
	}
	return b.PlaceholderFormat(format).ToSql()
}

// CountSQL renders a count of the rows the query selects. A distinct query
// counts distinct primary keys.
func (q *Query) CountSQL(where criteria.Predicate, format sq.PlaceholderFormat) (string, []any, error) {
	count := "COUNT(*)"
	if q.distinct {
		count = fmt.Sprintf("COUNT(DISTINCT %s.%s)", q.alias, q.entity.PrimaryKeyField())
	}
	b, err := q.from(sq.Select(count), where)
	if err != nil {
		return "", nil, err
	}
	return b.PlaceholderFormat(format).ToSql()
}
