package tree

import (
	"sync/atomic"

	"github.com/miradorstack/leakscope/internal/models"
)

// ActiveModel holds the model used for live predictions. Readers always observe either the
// previous or the next fully trained model.
type ActiveModel struct {
	current atomic.Pointer[TrainedModel]
}

// Load returns the current model, or nil when none has been published.
func (a *ActiveModel) Load() *TrainedModel {
	return a.current.Load()
}

// Store publishes m and returns the model it replaced.
func (a *ActiveModel) Store(m *TrainedModel) *TrainedModel {
	return a.current.Swap(m)
}

// PredictVector predicts with the current model. ok is false when no model is active.
func (a *ActiveModel) PredictVector(v models.FeatureVector) (pred Prediction, ok bool, err error) {
	m := a.current.Load()
	if m == nil {
		return Prediction{}, false, nil
	}
	pred, err = m.PredictVector(v)
	if err != nil {
		return Prediction{}, false, err
	}
	return pred, true, nil
}
