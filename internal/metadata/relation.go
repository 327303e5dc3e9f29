package metadata

type Relation struct {
	Name          string `json:"name" mapstructure:"name"`
	Type          string `json:"type" mapstructure:"type"` // one_to_one, one_to_many, many_to_one, many_to_many
	Source        string `json:"source" mapstructure:"source"`
	Target        string `json:"target" mapstructure:"target"`
	SourceKey     string `json:"source_key" mapstructure:"source_key"`
	TargetKey     string `json:"target_key,omitempty" mapstructure:"target_key"`
	JoinTable     string `json:"join_table,omitempty" mapstructure:"join_table"`
	SourceJoinKey string `json:"source_join_key,omitempty" mapstructure:"source_join_key"`
	TargetJoinKey string `json:"target_join_key,omitempty" mapstructure:"target_join_key"`
}

func (r *Relation) IsManyToMany() bool {
	return r.Type == "many_to_many"
}

func (r *Relation) IsOneToMany() bool {
	return r.Type == "one_to_many"
}

func (r *Relation) IsOneToOne() bool {
	return r.Type == "one_to_one"
}

func (r *Relation) IsManyToOne() bool {
	return r.Type == "many_to_one"
}

// Navigation is a relation walked from one of its ends.
type Navigation struct {
	Relation *Relation
	// Reverse is set when walking from the relation's target to its source.
	Reverse bool
	From    string
	To      string
}

// ToMany reports whether one row of From can match several rows of To.
func (n Navigation) ToMany() bool {
	switch {
	case n.Relation.IsManyToMany():
		return true
	case n.Reverse:
		return n.Relation.IsManyToOne()
	}
	return n.Relation.IsOneToMany()
}

// Keys returns the column on From and the column on To that the join matches.
// For many-to-many relations they are matched through the join table.
func (n Navigation) Keys() (from, to string) {
	if n.Reverse {
		return n.Relation.TargetKey, n.Relation.SourceKey
	}
	return n.Relation.SourceKey, n.Relation.TargetKey
}

// JoinKeys returns the join table columns referencing From and To.
func (n Navigation) JoinKeys() (from, to string) {
	if n.Reverse {
		return n.Relation.TargetJoinKey, n.Relation.SourceJoinKey
	}
	return n.Relation.SourceJoinKey, n.Relation.TargetJoinKey
}
