// Package provider talks to the external image-generation service and
// normalizes its responses into models.ImageRef values.
package provider

import (
	"context"
	"errors"
	"fmt"

	"afterwon/internal/models"
)

// Client generates exactly one image per call, or fails.
type Client interface {
	Generate(ctx context.Context, in Input) (Output, error)
}

type Input struct {
	Prompt      string
	Size        int
	Transparent bool
}

type Output struct {
	Ref           models.ImageRef
	RevisedPrompt string
	Model         string
}

// ProviderError carries a non-success answer from the provider.
type ProviderError struct {
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("image provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("image provider returned status %d: %s", e.StatusCode, e.Message)
}

// ErrEmptyResponse means the provider answered successfully without image data.
var ErrEmptyResponse = errors.New("image provider returned no image data")

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, in Input) (Output, error)

func (f ClientFunc) Generate(ctx context.Context, in Input) (Output, error) {
	return f(ctx, in)
}
