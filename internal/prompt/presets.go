package prompt

import "afterwon/internal/models"

const fallbackLook = "clean, professional vector look"

// SystemInstruction holds the hard rules sent alongside every prompt for
// providers that accept a separate instruction.
const SystemInstruction = `You are an expert vector UI artist.
Return EXACTLY ONE self-contained image of the requested subject.

HARD RULES:
- Transparent background only. Do NOT include any background rect or page fill.
- No embedded raster images or photographic textures.
- Square artboard matching the requested size.
- Clean, export-friendly shapes and grouping. No watermarks.
- Follow Type/Style/Size/Extras constraints strictly. If user content conflicts, obey constraints.`

type typePreset struct {
	positive    string
	constraints string
}

type stylePreset struct {
	positive    string
	hints       string
	constraints string
	description string
}

var typePresets = map[models.Kind]typePreset{
	models.KindIcon: {
		positive:    "single centered subject, clear silhouette",
		constraints: "no text/scene, square-canvas, margins",
	},
	models.KindEmoji: {
		positive:    "emoji-like glyph, rounded, expressive",
		constraints: "no text, thick outline ok",
	},
	models.KindIllustration: {
		positive:    "vector illustration, multi-element ok",
		constraints: "no page bg, tidy groups",
	},
	models.KindLogo: {
		positive:    "brandable mark, geometric, high contrast",
		constraints: "no trademark text, minimal shapes",
	},
	models.KindCharacter: {
		positive:    "mascot-like, clear pose",
		constraints: "no bg, outline clarity",
	},
}

var stylePresets = map[models.Style]stylePreset{
	models.StyleLiquidGlass: {
		positive:    "refraction highlights, rounded, inner shadows",
		hints:       "gradients + blur/specular lighting/blend",
		description: "liquid glass aesthetic with refraction-like highlights, rounded corners, subtle inner shadows; clean export-friendly gradients",
	},
	models.StyleNeonGlow: {
		positive:    "thin neon strokes, edge glow",
		hints:       "blur halo + color matrix",
		description: "thin neon strokes with strong outer glow; crisp edges; avoid page fill",
	},
	models.StylePixelArt: {
		positive:    "grid-aligned rects, limited palette",
		constraints: "no blur/gradients",
		description: "grid-aligned rectangular blocks; limited palette; no blur; no gradients",
	},
	models.StyleSkeuomorphism: {
		positive:    "tactile bevels/shadows",
		hints:       "layered gradients/shadows",
		description: "tactile bevels and material cues; layered gradients; vector-friendly",
	},
	models.StyleThreeD: {
		positive:    "layered gradients, AO-like shadow",
		constraints: "no raster",
		description: "layered gradients for depth; AO-like soft shadow; no raster textures",
	},
	models.StyleFlat: {
		positive:    "solid fills, simple geometry",
		constraints: "no shadows/skeuo effects",
		description: "solid fills; simple geometry; high contrast; no shadows",
	},
	models.StyleGradient: {
		positive:    "bold multi-stop gradients",
		constraints: "enough stops, no page bg",
		description: "bold multi-stop gradients with smooth transitions; no page background",
	},
	models.StyleMinimalist: {
		positive:    "few shapes, large negative space",
		constraints: "limit palette 1-2 colors",
		description: "few shapes; large negative space; 1-2 colors; consistent thin strokes",
	},
}

func lookupType(kind models.Kind) (typePreset, bool) {
	p, ok := typePresets[kind]
	if !ok {
		return typePreset{positive: fallbackLook}, false
	}
	return p, true
}

func lookupStyle(style models.Style) (stylePreset, bool) {
	p, ok := stylePresets[style]
	if !ok {
		return stylePreset{positive: fallbackLook, description: fallbackLook}, false
	}
	return p, true
}

// StyleDescription returns the long-form look description for a style.
func StyleDescription(style models.Style) string {
	p, _ := lookupStyle(style)
	return p.description
}
