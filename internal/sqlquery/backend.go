package sqlquery

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/cockroachdb/apd/v3"

	"filterspec/internal/criteria"
	"filterspec/internal/metadata"
)

// Backend implements criteria.Backend on top of the metadata registry.
// Predicates are squirrel Sqlizers.
type Backend struct {
	reg *metadata.Registry
}

func NewBackend(reg *metadata.Registry) *Backend {
	return &Backend{reg: reg}
}

// NewQuery starts a query over the named entity. Root columns are qualified
// with the entity's table name.
func (b *Backend) NewQuery(entity string) (*Query, error) {
	e := b.reg.GetEntity(entity)
	if e == nil {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}
	return &Query{entity: e, alias: e.Table}, nil
}

func (b *Backend) Join(parent criteria.From, relation, alias string, kind criteria.JoinKind, purpose criteria.Purpose) (criteria.Join, error) {
	q, parentAlias, entity, err := b.resolve(parent)
	if err != nil {
		return nil, err
	}
	if !identifier(alias) {
		return nil, fmt.Errorf("alias %q is not an SQL identifier", alias)
	}
	if alias == q.alias {
		return nil, fmt.Errorf("alias %q collides with table %s", alias, q.entity.Table)
	}
	for _, j := range q.joins {
		if j.alias == alias {
			return nil, fmt.Errorf("alias %q is already joined", alias)
		}
	}

	nav, ok := b.reg.Navigate(entity.Name, relation)
	if !ok {
		return nil, fmt.Errorf("entity %q has no relation %q", entity.Name, relation)
	}
	target := b.reg.GetEntity(nav.To)
	if target == nil {
		return nil, fmt.Errorf("relation %q points to unknown entity %q", relation, nav.To)
	}

	j := &Join{
		root:    q,
		parent:  parentAlias,
		alias:   alias,
		nav:     nav,
		entity:  target,
		kind:    kind,
		purpose: purpose,
	}
	q.joins = append(q.joins, j)
	return j, nil
}

func (b *Backend) Promote(j criteria.Join, purpose criteria.Purpose) error {
	sj, ok := j.(*Join)
	if !ok {
		return fmt.Errorf("unexpected join %T", j)
	}
	sj.purpose = sj.purpose.Merge(purpose)
	return nil
}

func (b *Backend) Distinct(root criteria.Root) error {
	q, ok := root.(*Query)
	if !ok {
		return fmt.Errorf("unexpected root %T", root)
	}
	q.distinct = true
	return nil
}

// resolve returns the query, the alias columns are qualified with and the
// entity of a root or join.
func (b *Backend) resolve(from criteria.From) (*Query, string, *metadata.Entity, error) {
	switch f := from.(type) {
	case *Query:
		return f, f.alias, f.entity, nil
	case *Join:
		return f.root, f.alias, f.entity, nil
	}
	return nil, "", nil, fmt.Errorf("unexpected query source %T", from)
}

func (b *Backend) Predicate(from criteria.From, attribute string, cond criteria.Condition) (criteria.Predicate, error) {
	_, alias, entity, err := b.resolve(from)
	if err != nil {
		return nil, err
	}
	if cond.Op == criteria.Empty || cond.Op == criteria.NotEmpty {
		return b.exists(alias, entity, attribute, cond.Op == criteria.NotEmpty)
	}
	if !entity.HasField(attribute) && attribute != entity.PrimaryKeyField() {
		return nil, fmt.Errorf("unknown field %q on entity %q", attribute, entity.Name)
	}

	col := alias + "." + attribute
	if cond.IgnoreCase {
		col = "LOWER(" + col + ")"
	}
	values := driverValues(cond.Values)

	switch cond.Op {
	case criteria.IsNull:
		return sq.Eq{col: nil}, nil
	case criteria.IsNotNull:
		return sq.NotEq{col: nil}, nil
	case criteria.In:
		return sq.Eq{col: values}, nil
	case criteria.NotIn:
		return sq.NotEq{col: values}, nil
	}

	if cond.Op == criteria.Between {
		if len(values) != 2 {
			return nil, fmt.Errorf("between on %s needs 2 values, got %d", col, len(values))
		}
		return sq.Expr(col+" BETWEEN ? AND ?", values[0], values[1]), nil
	}

	if len(values) != 1 {
		return nil, fmt.Errorf("%s on %s needs 1 value, got %d", cond.Op, col, len(values))
	}
	v := values[0]
	switch cond.Op {
	case criteria.Eq:
		return sq.Eq{col: v}, nil
	case criteria.Ne:
		return sq.NotEq{col: v}, nil
	case criteria.Lt:
		return sq.Lt{col: v}, nil
	case criteria.Le:
		return sq.LtOrEq{col: v}, nil
	case criteria.Gt:
		return sq.Gt{col: v}, nil
	case criteria.Ge:
		return sq.GtOrEq{col: v}, nil
	case criteria.Like:
		return like(col, "%"+escapeLike(v)+"%", false), nil
	case criteria.NotLike:
		return like(col, "%"+escapeLike(v)+"%", true), nil
	case criteria.StartsWith:
		return like(col, escapeLike(v)+"%", false), nil
	case criteria.EndsWith:
		return like(col, "%"+escapeLike(v), false), nil
	}
	return nil, fmt.Errorf("unsupported condition %q", cond.Op)
}

// exists tests a relation of the aliased entity for related rows.
func (b *Backend) exists(alias string, entity *metadata.Entity, relation string, present bool) (criteria.Predicate, error) {
	nav, ok := b.reg.Navigate(entity.Name, relation)
	if !ok {
		return nil, fmt.Errorf("entity %q has no relation %q", entity.Name, relation)
	}
	from, to := nav.Keys()
	sub := alias + "_" + relation

	var q sq.SelectBuilder
	if nav.Relation.IsManyToMany() {
		linkFrom, _ := nav.JoinKeys()
		q = sq.Select("1").
			From(nav.Relation.JoinTable + " " + sub).
			Where(fmt.Sprintf("%s.%s = %s.%s", sub, linkFrom, alias, from))
	} else {
		target := b.reg.GetEntity(nav.To)
		if target == nil {
			return nil, fmt.Errorf("relation %q points to unknown entity %q", relation, nav.To)
		}
		q = sq.Select("1").
			From(target.Table + " " + sub).
			Where(fmt.Sprintf("%s.%s = %s.%s", sub, to, alias, from))
		if target.SoftDelete {
			q = q.Where(sub + ".deleted_at IS NULL")
		}
	}

	subSQL, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	prefix := "EXISTS"
	if !present {
		prefix = "NOT EXISTS"
	}
	return sq.Expr(fmt.Sprintf("%s (%s)", prefix, subSQL), args...), nil
}

func (b *Backend) And(ps ...criteria.Predicate) criteria.Predicate {
	return sq.And(sqlizers(ps))
}

func (b *Backend) Or(ps ...criteria.Predicate) criteria.Predicate {
	return sq.Or(sqlizers(ps))
}

func (b *Backend) Not(p criteria.Predicate) criteria.Predicate {
	return not{sqlizer(p)}
}

type not struct {
	pred sq.Sqlizer
}

func (n not) ToSql() (string, []any, error) {
	s, args, err := n.pred.ToSql()
	if err != nil {
		return "", nil, err
	}
	return "NOT (" + s + ")", args, nil
}

// invalid carries a predicate of the wrong type to ToSql.
type invalid struct {
	p any
}

func (i invalid) ToSql() (string, []any, error) {
	return "", nil, fmt.Errorf("predicate %T is not SQL", i.p)
}

func sqlizer(p criteria.Predicate) sq.Sqlizer {
	if s, ok := p.(sq.Sqlizer); ok {
		return s
	}
	return invalid{p}
}

func sqlizers(ps []criteria.Predicate) []sq.Sqlizer {
	out := make([]sq.Sqlizer, len(ps))
	for i, p := range ps {
		out[i] = sqlizer(p)
	}
	return out
}

func like(col, pattern string, negate bool) sq.Sqlizer {
	op := " LIKE "
	if negate {
		op = " NOT LIKE "
	}
	return sq.Expr(col+op+`? ESCAPE '\'`, pattern)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(v any) string {
	return likeEscaper.Replace(fmt.Sprint(v))
}

// driverValues hands decimals to the driver as exact text.
func driverValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		if d, ok := v.(*apd.Decimal); ok {
			v = d.Text('f')
		}
		out[i] = v
	}
	return out
}

func identifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}
