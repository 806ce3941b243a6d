package contracts

import (
	"errors"
	"fmt"
)

// ErrMalformedDefinition matches every MalformedDefinitionError
var ErrMalformedDefinition = errors.New("malformed stream definition")

// Reasons reported by MalformedDefinitionError
const (
	ReasonContainsSeparator = "cannot contain '" + StreamIDSeparator + "'"
	ReasonBadVersionFormat  = "does not adhere to the format x.x.x"
	ReasonEmpty             = "cannot be empty"
)

// MalformedDefinitionError reports a stream definition field that violates a naming rule
type MalformedDefinitionError struct {
	Field  string // "name" or "version"
	Value  string // offending value
	Reason string // violated rule
}

func (e *MalformedDefinitionError) Error() string {
	return fmt.Sprintf("%s: %s %q %s", ErrMalformedDefinition, e.Field, e.Value, e.Reason)
}

// Is lets errors.Is match ErrMalformedDefinition
func (e *MalformedDefinitionError) Is(target error) bool {
	return target == ErrMalformedDefinition
}

// IsMalformedDefinition reports whether err is caused by a malformed definition
func IsMalformedDefinition(err error) bool {
	return errors.Is(err, ErrMalformedDefinition)
}
