package metadata

type Entity struct {
	Name       string     `json:"name" mapstructure:"name"`
	Table      string     `json:"table" mapstructure:"table"`
	PrimaryKey PrimaryKey `json:"primary_key" mapstructure:"primary_key"`
	SoftDelete bool       `json:"soft_delete" mapstructure:"soft_delete"`
	Fields     []Field    `json:"fields" mapstructure:"fields"`
}

type PrimaryKey struct {
	Field string `json:"field" mapstructure:"field"`
	Type  string `json:"type" mapstructure:"type"` // uuid, int, bigint, string
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// PrimaryKeyField returns the primary key column, "id" when not configured.
func (e *Entity) PrimaryKeyField() string {
	if e.PrimaryKey.Field == "" {
		return "id"
	}
	return e.PrimaryKey.Field
}
