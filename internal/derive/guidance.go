package derive

import "github.com/nimishamba325/Coral-reef/internal/prediction"

// Tip is one guidance entry.
type Tip struct {
	Icon        string `json:"icon"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Guidance is the full advice card for a verdict.
type Guidance struct {
	Headline string `json:"headline"`
	Summary  string `json:"summary"`
	Title    string `json:"title"`
	Subtitle string `json:"subtitle"`
	Section  string `json:"section"`
	Tips     []Tip  `json:"tips"`
	Action   string `json:"action"`
	Fact     string `json:"fact"`
}

var healthyGuidance = Guidance{
	Headline: "Healthy Coral",
	Summary:  "This coral appears to be in good health with vibrant colors and structure.",
	Title:    "Keep Up the Great Work!",
	Subtitle: "Your coral is thriving, let's keep it that way",
	Section:  "Preservation Tips",
	Tips: []Tip{
		{Icon: "🚫", Title: "Avoid Harmful Chemicals", Description: "Use reef-safe sunscreen and avoid products with oxybenzone"},
		{Icon: "🌡️", Title: "Monitor Water Temperature", Description: "Keep water temperatures stable to prevent thermal stress"},
		{Icon: "🐠", Title: "Support Marine Life", Description: "Maintain healthy fish populations that clean and protect corals"},
		{Icon: "📸", Title: "Document & Share", Description: "Take photos to track coral health and inspire others"},
	},
	Action: "Continue monitoring this healthy coral ecosystem",
	Fact:   "Healthy corals support 25% of all marine species",
}

var bleachedGuidance = Guidance{
	Headline: "Bleached Coral",
	Summary:  "This coral shows signs of bleaching and may need immediate attention.",
	Title:    "Urgent Action Needed",
	Subtitle: "This coral needs immediate care, every moment counts",
	Section:  "Recovery Actions",
	Tips: []Tip{
		{Icon: "🌡️", Title: "Reduce Heat Stress", Description: "Provide shade or improve water circulation immediately"},
		{Icon: "💧", Title: "Improve Water Quality", Description: "Test and adjust pH, salinity, and nutrient levels"},
		{Icon: "🔬", Title: "Monitor Closely", Description: "Check daily for signs of recovery or further deterioration"},
		{Icon: "🏥", Title: "Consider Intervention", Description: "Consult marine biologists for potential treatment options"},
	},
	Action: "Take immediate action to save this coral",
	Fact:   "Coral bleaching affects 50% of shallow-water corals globally",
}

// TipsFor returns the ordered tips for label. Anything other than healthy
// gets the recovery tips. The slice is a fresh copy.
func TipsFor(label prediction.Label) []Tip {
	return GuidanceFor(label).Tips
}

// GuidanceFor returns the advice card for label.
func GuidanceFor(label prediction.Label) Guidance {
	g := bleachedGuidance
	if label == prediction.Healthy {
		g = healthyGuidance
	}
	g.Tips = append([]Tip(nil), g.Tips...)
	return g
}
