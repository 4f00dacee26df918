// Package badge generates shields.io-style SVG status badges for build
// outcomes, with measured font metrics when a font file is available.
package badge

// Engine generates SVG badges using a specific font metric source.
type Engine struct {
	metrics *FontMetrics
}

// New creates a badge engine with the given font metrics.
func New(metrics *FontMetrics) *Engine {
	return &Engine{metrics: metrics}
}

// Badge defines the content and appearance of a single badge.
type Badge struct {
	Label string // left side text, typically the build name
	Value string // right side text, the outcome status
	Color string // hex color for right side (e.g. "#4c1")
}

// Generate produces a shields.io-compatible flat SVG badge string.
func (e *Engine) Generate(b Badge) string {
	return e.renderSVG(b)
}

// StatusColor maps a build status string to a badge color.
func StatusColor(status string) string {
	switch status {
	case "success":
		return "#4c1"
	case "stderr-failure":
		return "#dfb317"
	case "toolchain-failure", "artifact-failure", "config-error":
		return "#e05d44"
	default:
		return "#9f9f9f"
	}
}
