package prediction

import (
	"errors"
	"fmt"
	"time"
)

// Label is the categorical verdict returned by a classifier.
type Label string

const (
	Healthy  Label = "healthy"
	Bleached Label = "bleached"
)

var ErrUnknownLabel = errors.New("unknown prediction label")

// ParseLabel accepts exactly "healthy" or "bleached".
func ParseLabel(s string) (Label, error) {
	switch Label(s) {
	case Healthy, Bleached:
		return Label(s), nil
	}
	return "", fmt.Errorf("%w %q", ErrUnknownLabel, s)
}

// Result is a normalized prediction for one image and model.
type Result struct {
	Label      Label     `json:"prediction"`
	Confidence float64   `json:"confidence"`
	Filename   string    `json:"filename"`
	Model      Model     `json:"model"`
	Timestamp  time.Time `json:"timestamp"`
}
