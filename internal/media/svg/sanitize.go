package svg

import (
	"bytes"
	"errors"
	"regexp"
)

var (
	ErrNotSVG         = errors.New("not a single svg element")
	ErrRasterEmbedded = errors.New("raster image elements not allowed")
	ErrExternalLink   = errors.New("external links not allowed")
)

var (
	scriptTagPattern = regexp.MustCompile(`(?is)<\s*script[\s>].*?<\s*/\s*script\s*>`)
	eventAttrPattern = regexp.MustCompile(`(?is)\son[a-z]+\s*=\s*("[^"]*"|'[^']*')`)
	singleSVGPattern = regexp.MustCompile(`(?is)^(<\?xml[^>]*\?>\s*)?<svg[\s>].*</svg>$`)
	rasterPattern    = regexp.MustCompile(`(?i)<(image|img)\b`)
	externalPattern  = regexp.MustCompile(`(?i)href\s*=\s*["']https?:`)
)

// Validate checks that input is one self-contained vector document: a single
// <svg> root, no embedded rasters and no external references.
func Validate(input []byte) error {
	trimmed := bytes.TrimSpace(input)
	if !singleSVGPattern.Match(trimmed) {
		return ErrNotSVG
	}
	if rasterPattern.Match(trimmed) {
		return ErrRasterEmbedded
	}
	if externalPattern.Match(trimmed) {
		return ErrExternalLink
	}
	return nil
}

// Sanitize strips scripts and inline event handlers.
func Sanitize(input []byte) ([]byte, error) {
	if !bytes.Contains(bytes.ToLower(input), []byte("<svg")) {
		return nil, ErrNotSVG
	}

	clean := scriptTagPattern.ReplaceAll(input, nil)
	clean = eventAttrPattern.ReplaceAll(clean, nil)

	return bytes.TrimSpace(clean), nil
}
