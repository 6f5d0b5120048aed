package models

import (
	"fmt"
	"strings"
)

type Kind string

const (
	KindIcon         Kind = "Icon"
	KindEmoji        Kind = "Emoji"
	KindIllustration Kind = "Illustration"
	KindLogo         Kind = "Logo"
	KindCharacter    Kind = "Character"
)

type Style string

const (
	StyleLiquidGlass   Style = "LiquidGlass"
	StyleNeonGlow      Style = "NeonGlow"
	StylePixelArt      Style = "PixelArt"
	StyleSkeuomorphism Style = "Skeuomorphism"
	StyleThreeD        Style = "3D"
	StyleFlat          Style = "Flat"
	StyleGradient      Style = "Gradient"
	StyleMinimalist    Style = "Minimalist"
)

// ExtraTransparentBackground asks the provider for an alpha background.
const ExtraTransparentBackground = "Transparent Background"

// SupportedSizes lists the square artboards a request may ask for.
var SupportedSizes = []int{128, 256, 512, 1024}

type GenerationRequest struct {
	Kind        Kind     `json:"type"`
	Style       Style    `json:"style"`
	Size        int      `json:"size"`
	Extras      []string `json:"extras"`
	Description string   `json:"description"`
}

// ValidationError reports a malformed request. It is returned before any
// network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (r GenerationRequest) Validate() error {
	if strings.TrimSpace(r.Description) == "" {
		return &ValidationError{Field: "description", Reason: "must not be empty"}
	}
	if strings.TrimSpace(string(r.Kind)) == "" {
		return &ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if strings.TrimSpace(string(r.Style)) == "" {
		return &ValidationError{Field: "style", Reason: "must not be empty"}
	}
	if r.Size <= 0 {
		return &ValidationError{Field: "size", Reason: "must be positive"}
	}
	if !IsSupportedSize(r.Size) {
		return &ValidationError{Field: "size", Reason: fmt.Sprintf("unsupported size %d", r.Size)}
	}
	return nil
}

func IsSupportedSize(size int) bool {
	for _, s := range SupportedSizes {
		if s == size {
			return true
		}
	}
	return false
}

// Transparent reports whether the caller asked for a transparent background.
func (r GenerationRequest) Transparent() bool {
	for _, extra := range r.Extras {
		if strings.EqualFold(strings.TrimSpace(extra), ExtraTransparentBackground) {
			return true
		}
	}
	return false
}

// Clone returns a copy that does not share the extras slice.
func (r GenerationRequest) Clone() GenerationRequest {
	out := r
	if r.Extras != nil {
		out.Extras = append([]string(nil), r.Extras...)
	}
	return out
}
