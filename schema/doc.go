// Package schema provides stream definition registration and event validation.
//
// A DefinitionStore keeps stream definitions by stream id and detects duplicate
// registrations: saving a definition that is Equal to the stored one is a no-op,
// while saving a different schema under an existing id fails with
// ErrDifferentDefinition.
//
// Basic usage:
//
//	store := schema.NewMemoryStore()
//	if _, err := store.Save(ctx, def); err != nil {
//	    log.Fatal(err)
//	}
//
//	validator := schema.NewEventValidator(store)
//	err := validator.Validate(ctx, event)
//	if err != nil {
//	    log.Printf("Validation failed: %v", err)
//	}
//
// Events are checked positionally: each attribute group must carry exactly as
// many values as the definition declares, and each non-nil value must fit the
// attribute type.
package schema
