package classifier

import (
	"fmt"
	"math"
)

// Prediction is a label paired with the probability the model assigned to it.
type Prediction struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Percent returns the probability as a rounded percentage.
func (p Prediction) Percent() int {
	return int(math.Round(p.Probability * 100))
}

// Record is the raw per-class record emitted by the model service.
// Pointer fields let a missing key be told apart from a zero value.
type Record struct {
	ClassName   *string  `json:"className"`
	Probability *float64 `json:"probability"`
}

// FromRecords converts raw records into predictions, rejecting records with
// missing fields, then validates the result against labels.
func FromRecords(records []Record, labels []string) ([]Prediction, error) {
	preds := make([]Prediction, 0, len(records))
	for i, r := range records {
		if r.ClassName == nil {
			return nil, fmt.Errorf("%w: record %d has no className", ErrMalformedPrediction, i)
		}
		if r.Probability == nil {
			return nil, fmt.Errorf("%w: record %d (%s) has no probability", ErrMalformedPrediction, i, *r.ClassName)
		}
		preds = append(preds, Prediction{Label: *r.ClassName, Probability: *r.Probability})
	}

	if err := Validate(preds, labels); err != nil {
		return nil, err
	}
	return preds, nil
}

// Validate checks that preds is a well-formed classification result: at least
// one prediction, non-empty unique labels and probabilities within [0, 1].
// When labels is non-nil the result must also cover exactly that label set.
func Validate(preds []Prediction, labels []string) error {
	if len(preds) == 0 {
		return fmt.Errorf("%w: no predictions", ErrMalformedPrediction)
	}

	seen := make(map[string]struct{}, len(preds))
	for i, p := range preds {
		if p.Label == "" {
			return fmt.Errorf("%w: prediction %d has an empty label", ErrMalformedPrediction, i)
		}
		if math.IsNaN(p.Probability) || p.Probability < 0 || p.Probability > 1 {
			return fmt.Errorf("%w: %s has probability %v outside [0,1]", ErrMalformedPrediction, p.Label, p.Probability)
		}
		if _, dup := seen[p.Label]; dup {
			return fmt.Errorf("%w: label %s appears more than once", ErrMalformedPrediction, p.Label)
		}
		seen[p.Label] = struct{}{}
	}

	if labels == nil {
		return nil
	}

	if len(preds) != len(labels) {
		return fmt.Errorf("%w: got %d predictions for %d labels", ErrMalformedPrediction, len(preds), len(labels))
	}
	for _, l := range labels {
		if _, ok := seen[l]; !ok {
			return fmt.Errorf("%w: label %s missing from result", ErrMalformedPrediction, l)
		}
	}

	return nil
}
