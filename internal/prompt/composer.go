// Package prompt renders generation requests into provider prompts.
package prompt

import (
	"fmt"
	"strings"

	"afterwon/internal/models"
)

type Prompt struct {
	System string
	Text   string
}

// Full joins the system instruction and the prompt text for providers that
// take a single prompt string.
func (p Prompt) Full() string {
	if p.System == "" {
		return p.Text
	}
	return p.System + "\n\n" + p.Text
}

// Compose renders req into a prompt. It never fails: unknown types and styles
// fall back to a generic look.
func Compose(req models.GenerationRequest) Prompt {
	var b strings.Builder

	tp, _ := lookupType(req.Kind)
	fmt.Fprintf(&b, "TYPE: %s\n", req.Kind)
	fmt.Fprintf(&b, "- %s\n", tp.positive)
	if tp.constraints != "" {
		fmt.Fprintf(&b, "- Constraints: %s\n", tp.constraints)
	}
	b.WriteString("\n")

	sp, _ := lookupStyle(req.Style)
	fmt.Fprintf(&b, "STYLE: %s\n", req.Style)
	fmt.Fprintf(&b, "- %s\n", sp.positive)
	if sp.description != "" && sp.description != sp.positive {
		fmt.Fprintf(&b, "- Look: %s\n", sp.description)
	}
	if sp.hints != "" {
		fmt.Fprintf(&b, "- Rendering hints: %s\n", sp.hints)
	}
	if sp.constraints != "" {
		fmt.Fprintf(&b, "- Constraints: %s\n", sp.constraints)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "SIZE: %dx%d\n", req.Size, req.Size)
	fmt.Fprintf(&b, "- Artboard: %dx%d\n", req.Size, req.Size)
	fmt.Fprintf(&b, "- ViewBox: 0 0 %d %d\n", req.Size, req.Size)
	b.WriteString("- Keep margins to avoid cropping.\n\n")

	b.WriteString("EXTRAS:\n")
	fmt.Fprintf(&b, "- %s\n\n", joinExtras(req.Extras))

	b.WriteString("CONTENT:\n")
	b.WriteString(req.Description)
	b.WriteString("\n\n")

	b.WriteString("ABSOLUTE CONSTRAINTS:\n")
	b.WriteString("- No background fill. Transparent canvas only.\n")
	b.WriteString("- No raster images or photographic textures.\n")
	b.WriteString("- Exactly one output element; no scene, no typography.\n")
	b.WriteString("- If a brand is referenced, imply shapes without trademark text.")

	return Prompt{
		System: SystemInstruction,
		Text:   b.String(),
	}
}

func joinExtras(extras []string) string {
	cleaned := make([]string, 0, len(extras))
	for _, e := range extras {
		if e = strings.TrimSpace(e); e != "" {
			cleaned = append(cleaned, e)
		}
	}
	if len(cleaned) == 0 {
		return "none"
	}
	return strings.Join(cleaned, ", ")
}
