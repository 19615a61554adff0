package workflow

import (
	"fmt"

	"github.com/nimishamba325/Coral-reef/internal/derive"
	"github.com/nimishamba325/Coral-reef/internal/inference"
	"github.com/nimishamba325/Coral-reef/internal/prediction"
)

// Phase discriminates State.
type Phase int

const (
	PhaseIdle Phase = iota
	PhasePending
	PhaseSucceeded
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhasePending:
		return "pending"
	case PhaseSucceeded:
		return "succeeded"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(text []byte) error {
	for _, candidate := range []Phase{PhaseIdle, PhasePending, PhaseSucceeded, PhaseFailed} {
		if candidate.String() == string(text) {
			*p = candidate
			return nil
		}
	}
	return fmt.Errorf("workflow: unknown phase %q", text)
}

// Key identifies one workflow instance: an image and the model asked to
// classify it.
type Key struct {
	ImageID  string           `json:"image_id,omitempty"`
	Filename string           `json:"filename,omitempty"`
	Model    prediction.Model `json:"model,omitempty"`
}

// State is a snapshot of the coordinator. Only the fields belonging to
// Phase are set: Result, Metrics and Guidance for PhaseSucceeded, ErrorKind
// and Message for PhaseFailed. Snapshots share their pointers with the
// coordinator and must not be modified.
type State struct {
	Phase      Phase  `json:"phase"`
	Key        Key    `json:"key"`
	Generation uint64 `json:"generation"`
	RequestID  string `json:"request_id,omitempty"`

	Result   *prediction.Result `json:"result,omitempty"`
	Metrics  *derive.Metrics    `json:"metrics,omitempty"`
	Guidance *derive.Guidance   `json:"guidance,omitempty"`

	ErrorKind inference.Kind `json:"error_kind,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Terminal reports whether the request has resolved.
func (s State) Terminal() bool {
	return s.Phase == PhaseSucceeded || s.Phase == PhaseFailed
}
