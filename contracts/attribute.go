package contracts

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AttributeType is the scalar type of a stream attribute
type AttributeType int

const (
	AttributeTypeInt AttributeType = iota
	AttributeTypeLong
	AttributeTypeFloat
	AttributeTypeDouble
	AttributeTypeBool
	AttributeTypeString
	AttributeTypeObject
)

var attributeTypeNames = [...]string{
	AttributeTypeInt:    "INT",
	AttributeTypeLong:   "LONG",
	AttributeTypeFloat:  "FLOAT",
	AttributeTypeDouble: "DOUBLE",
	AttributeTypeBool:   "BOOL",
	AttributeTypeString: "STRING",
	AttributeTypeObject: "OBJECT",
}

// String returns the wire name of the type
func (t AttributeType) String() string {
	if t < 0 || int(t) >= len(attributeTypeNames) {
		return fmt.Sprintf("AttributeType(%d)", int(t))
	}
	return attributeTypeNames[t]
}

// IsValid reports whether t is one of the known attribute types
func (t AttributeType) IsValid() bool {
	return t >= 0 && int(t) < len(attributeTypeNames)
}

// ParseAttributeType parses a type name, ignoring case
func ParseAttributeType(name string) (AttributeType, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for i, n := range attributeTypeNames {
		if n == upper {
			return AttributeType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown attribute type: %q", name)
}

// MarshalJSON encodes the type by name
func (t AttributeType) MarshalJSON() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("cannot marshal invalid attribute type %d", int(t))
	}
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the type from its name
func (t *AttributeType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("attribute type must be a string: %w", err)
	}
	parsed, err := ParseAttributeType(name)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Attribute describes one field of a stream schema
type Attribute struct {
	Name string        `json:"name"`
	Type AttributeType `json:"type"`
}

// NewAttribute creates an attribute
func NewAttribute(name string, attrType AttributeType) Attribute {
	return Attribute{Name: name, Type: attrType}
}

func (a Attribute) String() string {
	return a.Name + ":" + a.Type.String()
}
