package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"afterwon/internal/models"
)

func TestCompose_RedApple(t *testing.T) {
	p := Compose(models.GenerationRequest{
		Kind:        models.KindIcon,
		Style:       models.StyleFlat,
		Size:        1024,
		Description: "a red apple",
	})

	assert.Contains(t, p.Text, "a red apple")
	assert.Contains(t, p.Text, "TYPE: Icon")
	assert.Contains(t, p.Text, "Flat")
	assert.Contains(t, p.Text, "SIZE: 1024x1024")
	assert.Contains(t, p.Text, "EXTRAS:\n- none")
	assert.NotEmpty(t, p.System)
}

func TestCompose_SectionOrder(t *testing.T) {
	p := Compose(models.GenerationRequest{
		Kind:        models.KindLogo,
		Style:       models.StyleNeonGlow,
		Size:        512,
		Extras:      []string{"Transparent Background", " "},
		Description: "owl mascot for a night cafe",
	})

	sections := []string{"TYPE:", "STYLE:", "SIZE:", "EXTRAS:", "CONTENT:", "ABSOLUTE CONSTRAINTS:"}
	last := -1
	for _, s := range sections {
		idx := strings.Index(p.Text, s)
		require.GreaterOrEqual(t, idx, 0, "missing section %s", s)
		assert.Greater(t, idx, last, "section %s out of order", s)
		last = idx
	}
	assert.Contains(t, p.Text, "- Transparent Background\n")
}

func TestCompose_EmbedsDescriptionOnce(t *testing.T) {
	requests := []models.GenerationRequest{
		{Kind: models.KindEmoji, Style: models.StyleThreeD, Size: 128, Description: "grumpy cloud with sunglasses"},
		{Kind: models.KindCharacter, Style: models.StylePixelArt, Size: 256, Extras: []string{"Outline"}, Description: "knight holding a lantern"},
		{Kind: models.KindIllustration, Style: models.StyleMinimalist, Size: 1024, Description: "mountain sunrise\nwith two lines"},
	}
	for _, req := range requests {
		p := Compose(req)
		assert.Equal(t, 1, strings.Count(p.Text, req.Description), req.Description)
		assert.Equal(t, 1, strings.Count(p.Full(), req.Description), req.Description)
	}
}

func TestCompose_UnknownEnumsFallBack(t *testing.T) {
	assert.NotPanics(t, func() {
		p := Compose(models.GenerationRequest{
			Kind:        models.Kind("Banner"),
			Style:       models.Style("Watercolor"),
			Size:        256,
			Description: "a paper boat",
		})
		assert.Contains(t, p.Text, "TYPE: Banner")
		assert.Contains(t, p.Text, fallbackLook)
		assert.Contains(t, p.Text, "a paper boat")
	})
}

func TestCompose_AllPresetsNonEmpty(t *testing.T) {
	kinds := []models.Kind{models.KindIcon, models.KindEmoji, models.KindIllustration, models.KindLogo, models.KindCharacter}
	styles := []models.Style{
		models.StyleLiquidGlass, models.StyleNeonGlow, models.StylePixelArt, models.StyleSkeuomorphism,
		models.StyleThreeD, models.StyleFlat, models.StyleGradient, models.StyleMinimalist,
	}
	for _, k := range kinds {
		for _, s := range styles {
			p := Compose(models.GenerationRequest{Kind: k, Style: s, Size: 512, Description: "x-marker"})
			assert.NotEmpty(t, p.Text)
			assert.NotContains(t, p.Text, fallbackLook, "%s/%s", k, s)
		}
	}
}

func TestStyleDescription(t *testing.T) {
	assert.Contains(t, StyleDescription(models.StyleLiquidGlass), "liquid glass")
	assert.Equal(t, fallbackLook, StyleDescription(models.Style("Unknown")))
}
