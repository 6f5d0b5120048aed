package sniffer

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
)

type Format struct {
	Name string
	MIME string
	Ext  string
}

var (
	PNG  = Format{Name: "png", MIME: "image/png", Ext: "png"}
	JPEG = Format{Name: "jpeg", MIME: "image/jpeg", Ext: "jpg"}
	GIF  = Format{Name: "gif", MIME: "image/gif", Ext: "gif"}
	WEBP = Format{Name: "webp", MIME: "image/webp", Ext: "webp"}
	AVIF = Format{Name: "avif", MIME: "image/avif", Ext: "avif"}
	SVG  = Format{Name: "svg", MIME: "image/svg+xml", Ext: "svg"}
)

var ErrUnknownType = errors.New("unknown media type")

var matchers = []struct {
	format Format
	match  func([]byte) bool
}{
	{PNG, isPNG},
	{JPEG, isJPEG},
	{WEBP, isWEBP},
	{GIF, isGIF},
	{AVIF, isAVIF},
	{SVG, isSVG},
}

// Detect identifies the image format from the leading bytes of data.
func Detect(data []byte) (Format, error) {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	if len(head) == 0 {
		return Format{}, ErrUnknownType
	}
	for _, m := range matchers {
		if m.match(head) {
			return m.format, nil
		}
	}
	return Format{}, ErrUnknownType
}

// DetectOr returns fallback when the format cannot be identified.
func DetectOr(data []byte, fallback Format) Format {
	f, err := Detect(data)
	if err != nil {
		return fallback
	}
	return f
}

// ByMIME maps a declared content type onto a known format.
func ByMIME(mime string) (Format, bool) {
	mime = strings.ToLower(strings.TrimSpace(mime))
	if mime == "image/jpg" {
		mime = JPEG.MIME
	}
	for _, m := range matchers {
		if m.format.MIME == mime {
			return m.format, true
		}
	}
	return Format{}, false
}

func isPNG(head []byte) bool {
	return bytes.HasPrefix(head, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
}

func isJPEG(head []byte) bool {
	return bytes.HasPrefix(head, []byte{0xff, 0xd8, 0xff})
}

func isGIF(head []byte) bool {
	return bytes.HasPrefix(head, []byte("GIF87a")) || bytes.HasPrefix(head, []byte("GIF89a"))
}

func isWEBP(head []byte) bool {
	return len(head) >= 12 &&
		bytes.Equal(head[:4], []byte("RIFF")) &&
		bytes.Equal(head[8:12], []byte("WEBP"))
}

func isAVIF(head []byte) bool {
	return len(head) >= 12 &&
		string(head[4:8]) == "ftyp" &&
		bytes.Contains(head[8:], []byte("avif"))
}

func isSVG(head []byte) bool {
	trimmed := strings.TrimSpace(string(head))
	return strings.HasPrefix(trimmed, "<svg") || strings.HasPrefix(trimmed, "<?xml")
}

// MimeTypeFromHTTP strips parameters from the Content-Type header.
func MimeTypeFromHTTP(header http.Header) string {
	contentType := header.Get("Content-Type")
	if idx := strings.Index(contentType, ";"); idx >= 0 {
		contentType = contentType[:idx]
	}
	return strings.TrimSpace(contentType)
}
