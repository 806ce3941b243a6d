package schema

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/glimte/databridge-go/contracts"
)

// Validation error codes
const (
	CodeUnknownStream          = "UNKNOWN_STREAM"
	CodeAttributeCountMismatch = "ATTRIBUTE_COUNT_MISMATCH"
	CodeTypeMismatch           = "TYPE_MISMATCH"
	CodeRuleViolation          = "RULE_VIOLATION"
	CodeNilEvent               = "NIL_EVENT"
)

// ValidationResult represents the result of event validation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

func (r *ValidationResult) add(err ValidationError) {
	r.Valid = false
	r.Errors = append(r.Errors, err)
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Value   any    `json:"value,omitempty"`
}

// Error implements the error interface for ValidationError
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation error in field '%s': %s", ve.Field, ve.Message)
}

// ValidationRule is an extra check run for events of one stream
type ValidationRule interface {
	Validate(ctx context.Context, def *contracts.StreamDefinition, event *contracts.Event) *ValidationError
	GetName() string
}

// ValidationRuleFunc is a function adapter for ValidationRule
type ValidationRuleFunc func(ctx context.Context, def *contracts.StreamDefinition, event *contracts.Event) *ValidationError

func (f ValidationRuleFunc) Validate(ctx context.Context, def *contracts.StreamDefinition, event *contracts.Event) *ValidationError {
	return f(ctx, def, event)
}

func (f ValidationRuleFunc) GetName() string {
	return "anonymous"
}

// EventValidator checks events against the definitions held by a store
type EventValidator struct {
	store DefinitionStore
	rules map[string][]ValidationRule
	mu    sync.RWMutex
}

// NewEventValidator creates a validator backed by store
func NewEventValidator(store DefinitionStore) *EventValidator {
	return &EventValidator{
		store: store,
		rules: make(map[string][]ValidationRule),
	}
}

// RegisterRule adds a rule for events of the given stream
func (v *EventValidator) RegisterRule(streamID string, rule ValidationRule) error {
	if streamID == "" {
		return fmt.Errorf("stream id cannot be empty")
	}
	if rule == nil {
		return fmt.Errorf("rule cannot be nil")
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	v.rules[streamID] = append(v.rules[streamID], rule)
	return nil
}

// Validate validates an event against the definition of its stream
func (v *EventValidator) Validate(ctx context.Context, event *contracts.Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	result := v.ValidateEvent(ctx, event)
	if !result.Valid {
		return &ValidationError{
			Field:   "event",
			Message: fmt.Sprintf("validation failed with %d errors: %v", len(result.Errors), result.Errors[0]),
			Code:    "VALIDATION_FAILED",
		}
	}
	return nil
}

// ValidateEvent returns every problem found in the event
func (v *EventValidator) ValidateEvent(ctx context.Context, event *contracts.Event) *ValidationResult {
	result := &ValidationResult{Valid: true}
	if event == nil {
		result.add(ValidationError{
			Field:   "event",
			Message: "event cannot be nil",
			Code:    CodeNilEvent,
		})
		return result
	}

	def, err := v.store.GetByID(ctx, event.StreamID)
	if err != nil {
		code := CodeUnknownStream
		if !errors.Is(err, ErrDefinitionNotFound) {
			code = "STORE_ERROR"
		}
		result.add(ValidationError{
			Field:   "streamId",
			Message: err.Error(),
			Code:    code,
			Value:   event.StreamID,
		})
		return result
	}

	ValidateAgainst(def, event, result)

	v.mu.RLock()
	rules := v.rules[event.StreamID]
	v.mu.RUnlock()

	for _, rule := range rules {
		if validationErr := rule.Validate(ctx, def, event); validationErr != nil {
			if validationErr.Code == "" {
				validationErr.Code = CodeRuleViolation
			}
			result.add(*validationErr)
		}
	}

	return result
}

// ValidateAgainst checks the shape of an event against a definition, appending to result
func ValidateAgainst(def *contracts.StreamDefinition, event *contracts.Event, result *ValidationResult) {
	for _, group := range contracts.AttributeGroups {
		attrs := def.Attributes(group)
		values := event.Values(group)

		if len(attrs) != len(values) {
			result.add(ValidationError{
				Field:   string(group),
				Message: fmt.Sprintf("expected %d values, got %d", len(attrs), len(values)),
				Code:    CodeAttributeCountMismatch,
			})
			continue
		}

		for i, attr := range attrs {
			value := values[i]
			if value == nil || isCompatible(value, attr.Type) {
				continue
			}
			result.add(ValidationError{
				Field:   fmt.Sprintf("%s[%d]", group, i),
				Message: fmt.Sprintf("attribute %s expects %s, got %T", attr.Name, attr.Type, value),
				Code:    CodeTypeMismatch,
				Value:   value,
			})
		}
	}
}

// isCompatible reports whether value can be carried by an attribute of type t.
// Integer types widen to any type whose range holds the value. Integral float64
// values count as integers since JSON decodes numbers as float64.
func isCompatible(value any, t contracts.AttributeType) bool {
	switch t {
	case contracts.AttributeTypeInt:
		n, ok := integer(value)
		return ok && n >= math.MinInt32 && n <= math.MaxInt32
	case contracts.AttributeTypeLong:
		_, ok := integer(value)
		return ok
	case contracts.AttributeTypeFloat, contracts.AttributeTypeDouble:
		switch value.(type) {
		case float32, float64:
			return true
		}
		_, ok := integer(value)
		return ok
	case contracts.AttributeTypeBool:
		_, ok := value.(bool)
		return ok
	case contracts.AttributeTypeString:
		_, ok := value.(string)
		return ok
	case contracts.AttributeTypeObject:
		return true
	}
	return false
}

// integer returns value as an int64 when it is an integer in the int64 range
func integer(value any) (int64, bool) {
	switch n := value.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return int64(n), true
		}
	}
	return 0, false
}
