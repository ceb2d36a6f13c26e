package tree

import "fmt"

// InsufficientDataError is returned when training has too few samples to run.
type InsufficientDataError struct {
	Samples  int
	Required int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("not enough data: %d samples, need at least %d", e.Samples, e.Required)
}

// FeatureSchemaMismatchError is returned when a vector does not fit the model's feature layout.
type FeatureSchemaMismatchError struct {
	ExpectedWidth  int
	GotWidth       int
	ExpectedSchema string
	GotSchema      string
}

func (e *FeatureSchemaMismatchError) Error() string {
	if e.ExpectedSchema != e.GotSchema {
		return fmt.Sprintf("feature schema mismatch: model %q, vector %q; retrain required", e.ExpectedSchema, e.GotSchema)
	}
	return fmt.Sprintf("feature schema mismatch: model expects %d features, got %d", e.ExpectedWidth, e.GotWidth)
}
