package prediction

import (
	"errors"
	"fmt"
	"strings"
)

// Model identifies the backend classifier that services a request.
type Model string

const (
	ResNet50     Model = "resnet50"
	MobileNet    Model = "mobilenet"
	EfficientNet Model = "efficientnet"
	VGG16        Model = "vgg16"
)

// ErrUnknownModel is returned for identifiers outside the supported set.
var ErrUnknownModel = errors.New("unknown model")

// ModelInfo is the catalogue entry shown when choosing a model.
type ModelInfo struct {
	ID          Model    `json:"id"`
	Label       string   `json:"label"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Features    []string `json:"features"`
}

var catalog = []ModelInfo{
	{
		ID:          ResNet50,
		Label:       "ResNet-50",
		Title:       "Deep Residual Network",
		Description: "Deep residual network with skip connections, tuned for high-accuracy image classification.",
		Features:    []string{"50 layers deep", "Skip connections", "High accuracy", "Robust performance"},
	},
	{
		ID:          MobileNet,
		Label:       "MobileNet",
		Title:       "Mobile-Optimized Network",
		Description: "Lightweight network for mobile and edge devices with fast inference and a small footprint.",
		Features:    []string{"Lightweight design", "Fast inference", "Mobile-optimized", "Low memory usage"},
	},
	{
		ID:          EfficientNet,
		Label:       "EfficientNet",
		Title:       "Efficient Scaling Network",
		Description: "Compound scaling of width, depth and resolution for a balance of accuracy and cost.",
		Features:    []string{"Compound scaling", "Balanced efficiency", "SOTA accuracy", "Resource efficient"},
	},
	{
		ID:          VGG16,
		Label:       "VGG16",
		Title:       "Visual Geometry Group",
		Description: "Classic convolutional network with small receptive fields and a simple layer stack.",
		Features:    []string{"16 weight layers", "Simple architecture", "Proven reliability", "Transfer learning"},
	},
}

// Models lists the supported identifiers in display order.
func Models() []Model {
	models := make([]Model, len(catalog))
	for i, info := range catalog {
		models[i] = info.ID
	}
	return models
}

// Catalog returns a copy of the model catalogue.
func Catalog() []ModelInfo {
	out := make([]ModelInfo, len(catalog))
	for i, info := range catalog {
		info.Features = append([]string(nil), info.Features...)
		out[i] = info
	}
	return out
}

// ParseModel validates s against the closed set of identifiers.
// Matching ignores case and surrounding whitespace.
func ParseModel(s string) (Model, error) {
	candidate := Model(strings.ToLower(strings.TrimSpace(s)))
	if candidate.Valid() {
		return candidate, nil
	}
	return "", fmt.Errorf("%w %q: supported models are %s", ErrUnknownModel, s, joinModels())
}

// Valid reports whether m is one of the supported identifiers.
func (m Model) Valid() bool {
	for _, info := range catalog {
		if info.ID == m {
			return true
		}
	}
	return false
}

// Info returns the catalogue entry for m.
func (m Model) Info() (ModelInfo, bool) {
	for _, info := range Catalog() {
		if info.ID == m {
			return info, true
		}
	}
	return ModelInfo{}, false
}

func joinModels() string {
	names := make([]string, len(catalog))
	for i, info := range catalog {
		names[i] = string(info.ID)
	}
	return strings.Join(names, ", ")
}
