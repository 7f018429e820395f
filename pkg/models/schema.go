package models

// FieldType is the primitive type of a schema field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldInteger FieldType = "integer"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Valid returns true if the type is a known value.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldInteger, FieldBoolean, FieldArray, FieldObject:
		return true
	default:
		return false
	}
}

// Field is a named, typed member of a schema.
type Field struct {
	// Name is the JSON key.
	Name string `json:"name" yaml:"name"`
	// Type is the expected JSON type.
	Type FieldType `json:"type" yaml:"type"`
	// Items is the element type when Type is array. Empty accepts any element.
	Items FieldType `json:"items,omitempty" yaml:"items,omitempty"`
	// Required marks the field as mandatory.
	Required bool `json:"required" yaml:"required"`
	// Description is shown to the agent when asking for structured output.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// SchemaDescriptor declares the shape a task's output must conform to.
type SchemaDescriptor struct {
	Name   string  `json:"name" yaml:"name"`
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field returns the named field, or nil.
func (s *SchemaDescriptor) Field(name string) *Field {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i]
		}
	}
	return nil
}
