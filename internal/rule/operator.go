package rule

// Operator is the comparison a leaf applies to its attribute.
type Operator string

const (
	Equal              Operator = "equal"
	NotEqual           Operator = "not_equal"
	Like               Operator = "like"
	NotLike            Operator = "not_like"
	StartingWith       Operator = "starting_with"
	EndingWith         Operator = "ending_with"
	In                 Operator = "in"
	NotIn              Operator = "not_in"
	Between            Operator = "between"
	GreaterThan        Operator = "greater_than"
	GreaterThanOrEqual Operator = "greater_than_or_equal"
	LessThan           Operator = "less_than"
	LessThanOrEqual    Operator = "less_than_or_equal"
	EqualDay           Operator = "equal_day"
	IsNull             Operator = "is_null"
	NotNull            Operator = "not_null"
	IsEmpty            Operator = "is_empty"
	NotEmpty           Operator = "not_empty"
)

var operators = map[Operator]struct{}{
	Equal: {}, NotEqual: {}, Like: {}, NotLike: {}, StartingWith: {}, EndingWith: {},
	In: {}, NotIn: {}, Between: {}, GreaterThan: {}, GreaterThanOrEqual: {},
	LessThan: {}, LessThanOrEqual: {}, EqualDay: {}, IsNull: {}, NotNull: {},
	IsEmpty: {}, NotEmpty: {},
}

func (o Operator) Valid() bool {
	_, ok := operators[o]
	return ok
}

// MultiValued reports whether the operator takes a list of values.
func (o Operator) MultiValued() bool {
	return o == In || o == NotIn || o == Between
}

// Flag reports whether the operator takes a single boolean selecting its
// positive or negated form.
func (o Operator) Flag() bool {
	switch o {
	case IsNull, NotNull, IsEmpty, NotEmpty:
		return true
	}
	return false
}

// Textual reports whether the operator matches substrings.
func (o Operator) Textual() bool {
	switch o {
	case Like, NotLike, StartingWith, EndingWith:
		return true
	}
	return false
}

// OnRelation reports whether the leaf path names a relationship rather than
// an attribute.
func (o Operator) OnRelation() bool {
	return o == IsEmpty || o == NotEmpty
}
