package badge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateEstimatedMetrics(t *testing.T) {
	eng := New(EstimatedMetrics(11))

	svg := eng.Generate(Badge{Label: "arm64-defconfig", Value: "success", Color: "#4c1"})

	assert.Contains(t, svg, `<svg xmlns="http://www.w3.org/2000/svg"`)
	assert.Contains(t, svg, ">arm64-defconfig</text>")
	assert.Contains(t, svg, ">success</text>")
	assert.Contains(t, svg, `fill="#4c1"`)
	// Estimated metrics never embed font data.
	assert.NotContains(t, svg, "@font-face")
}

func TestGenerateEscapesText(t *testing.T) {
	eng := New(EstimatedMetrics(11))

	svg := eng.Generate(Badge{Label: "a<b>&c", Value: `"q"`, Color: "#e05d44"})

	assert.Contains(t, svg, "a&lt;b&gt;&amp;c")
	assert.Contains(t, svg, "&quot;q&quot;")
	assert.NotContains(t, svg, "<b>")
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, "#4c1", StatusColor("success"))
	assert.Equal(t, "#dfb317", StatusColor("stderr-failure"))
	assert.Equal(t, "#e05d44", StatusColor("toolchain-failure"))
	assert.Equal(t, "#e05d44", StatusColor("artifact-failure"))
	assert.Equal(t, "#e05d44", StatusColor("config-error"))
	assert.Equal(t, "#9f9f9f", StatusColor("something-else"))
}

func TestTextWidthGrowsWithText(t *testing.T) {
	m := EstimatedMetrics(11)
	require.Greater(t, m.TextWidth("toolchain-failure"), m.TextWidth("ok"))
	assert.Zero(t, m.TextWidth(""))
}

func TestDetectFontFormat(t *testing.T) {
	assert.Equal(t, "otf", detectFontFormat([]byte("OTTOxxxx")))
	assert.Equal(t, "ttf", detectFontFormat([]byte{0x00, 0x01, 0x00, 0x00}))
	assert.Equal(t, "ttf", detectFontFormat(nil))
}

func TestLoadFontRejectsGarbage(t *testing.T) {
	_, err := LoadFont("x", []byte("not a font"), 11)
	assert.Error(t, err)
}
