package models

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type RefKind string

const (
	RefInline RefKind = "inline"
	RefRemote RefKind = "url"
)

// ImageRef locates image bytes that are usable right away but not stored by
// us: either an inline payload or a provider-hosted URL.
type ImageRef struct {
	Kind     RefKind
	MIMEType string
	Data     []byte
	Href     string
}

func InlineRef(mimeType string, data []byte) ImageRef {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return ImageRef{Kind: RefInline, MIMEType: mimeType, Data: data}
}

func RemoteRef(href string) ImageRef {
	return ImageRef{Kind: RefRemote, Href: href}
}

func (r ImageRef) IsZero() bool {
	return r.Kind == ""
}

// DataURL renders the reference the way a browser can display it: a data:
// URL for inline payloads, the href otherwise.
func (r ImageRef) DataURL() string {
	switch r.Kind {
	case RefInline:
		return fmt.Sprintf("data:%s;base64,%s", r.MIMEType, base64.StdEncoding.EncodeToString(r.Data))
	case RefRemote:
		return r.Href
	default:
		return ""
	}
}

type imageRefJSON struct {
	Kind        RefKind `json:"kind"`
	MIMEType    string  `json:"mimeType,omitempty"`
	BytesBase64 string  `json:"bytesBase64,omitempty"`
	Href        string  `json:"href,omitempty"`
}

func (r ImageRef) MarshalJSON() ([]byte, error) {
	out := imageRefJSON{Kind: r.Kind}
	switch r.Kind {
	case RefInline:
		out.MIMEType = r.MIMEType
		out.BytesBase64 = base64.StdEncoding.EncodeToString(r.Data)
	case RefRemote:
		out.Href = r.Href
	}
	return json.Marshal(out)
}

func (r *ImageRef) UnmarshalJSON(b []byte) error {
	var in imageRefJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch in.Kind {
	case RefInline:
		data, err := base64.StdEncoding.DecodeString(in.BytesBase64)
		if err != nil {
			return fmt.Errorf("decode inline image: %w", err)
		}
		*r = InlineRef(in.MIMEType, data)
	case RefRemote:
		*r = RemoteRef(in.Href)
	case "":
		*r = ImageRef{}
	default:
		return errors.New("unknown image ref kind " + string(in.Kind))
	}
	return nil
}

// DurableRef points into storage we own.
type DurableRef struct {
	URL      string    `json:"url"`
	Key      string    `json:"key"`
	StoredAt time.Time `json:"storedAt"`
}

type AssetMetadata struct {
	Kind          Kind     `json:"type"`
	Style         Style    `json:"style"`
	Size          int      `json:"size"`
	Extras        []string `json:"extras"`
	Description   string   `json:"description"`
	Prompt        string   `json:"prompt,omitempty"`
	RevisedPrompt string   `json:"revisedPrompt,omitempty"`
	Model         string   `json:"model,omitempty"`
	Message       string   `json:"message"`
}

type GeneratedAsset struct {
	ID                  string        `json:"id"`
	Ephemeral           ImageRef      `json:"ephemeral"`
	Durable             *DurableRef   `json:"durable,omitempty"`
	Checksum            string        `json:"checksum"`
	Metadata            AssetMetadata `json:"metadata"`
	PersistenceDegraded bool          `json:"persistenceDegraded"`
	CreatedAt           time.Time     `json:"createdAt"`
}

// Authoritative returns the durable URL once storage has it, the ephemeral
// reference otherwise.
func (a GeneratedAsset) Authoritative() string {
	if a.Durable != nil && a.Durable.URL != "" {
		return a.Durable.URL
	}
	return a.Ephemeral.DataURL()
}

// Clone returns a deep copy so callers never share the durable pointer.
func (a GeneratedAsset) Clone() GeneratedAsset {
	out := a
	if a.Durable != nil {
		d := *a.Durable
		out.Durable = &d
	}
	if a.Metadata.Extras != nil {
		out.Metadata.Extras = append([]string(nil), a.Metadata.Extras...)
	}
	return out
}
