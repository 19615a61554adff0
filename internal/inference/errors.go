package inference

import (
	"errors"
	"fmt"
)

// Kind classifies why a prediction could not be produced.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindNetwork
	KindServer
)

// DefaultServerMessage is reported when a failed response carries no usable
// error message.
const DefaultServerMessage = "Prediction failed. Check backend console."

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "ValidationError"
	case KindNetwork:
		return "NetworkError"
	case KindServer:
		return "ServerError"
	default:
		return "UnknownError"
	}
}

// MarshalText lets the kind appear by name in JSON state payloads.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	for _, candidate := range []Kind{KindValidation, KindNetwork, KindServer} {
		if candidate.String() == string(text) {
			*k = candidate
			return nil
		}
	}
	return fmt.Errorf("inference: unknown error kind %q", text)
}

// Error is the only error type Predict returns.
type Error struct {
	Kind Kind
	// Message is safe to show to the user.
	Message string
	// Status is the HTTP status for server errors, zero otherwise.
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the classification of err, if any.
func KindOf(err error) (Kind, bool) {
	var inferenceErr *Error
	if errors.As(err, &inferenceErr) {
		return inferenceErr.Kind, true
	}
	return 0, false
}

// MessageOf returns the user facing message carried by err.
func MessageOf(err error) string {
	var inferenceErr *Error
	if errors.As(err, &inferenceErr) && inferenceErr.Message != "" {
		return inferenceErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func validationError(message string, err error) *Error {
	return &Error{Kind: KindValidation, Message: message, Err: err}
}

func networkError(message string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: message, Err: err}
}

func serverError(status int, message string, err error) *Error {
	return &Error{Kind: KindServer, Status: status, Message: message, Err: err}
}
