package metadata

import "filterspec/internal/convert"

type Field struct {
	Name     string   `json:"name" mapstructure:"name"`
	Type     string   `json:"type" mapstructure:"type"`
	Nullable bool     `json:"nullable,omitempty" mapstructure:"nullable"`
	Enum     []string `json:"enum,omitempty" mapstructure:"enum"`
}

// FilterType returns the type filter values for this field convert to.
func (f Field) FilterType() convert.Type {
	if len(f.Enum) > 0 {
		return convert.Enum(f.Enum...)
	}
	switch f.Type {
	case "json", "file":
		// Compared as text.
		return convert.String
	case "timestamp":
		return convert.Type{Kind: convert.KindTimestamp}
	}
	return convert.ParseType(f.Type)
}
