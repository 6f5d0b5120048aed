package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"afterwon/internal/generation"
	"afterwon/internal/ids"
	"afterwon/internal/media/sniffer"
	"afterwon/internal/media/svg"
	"afterwon/internal/models"
	"afterwon/internal/persistence"
	"afterwon/internal/provider"
	"afterwon/internal/session"
)

const (
	sessionHeader = "X-Session-Id"
	userHeader    = "X-User-Id"
)

// flexibleSize accepts 1024 as well as "1024".
type flexibleSize int

func (s *flexibleSize) UnmarshalJSON(b []byte) error {
	var n int
	if err := json.Unmarshal(b, &n); err == nil {
		*s = flexibleSize(n)
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.New("size must be a number")
	}
	str = strings.TrimSpace(str)
	if str == "" {
		*s = 0
		return nil
	}
	n, err := strconv.Atoi(str)
	if err != nil {
		return errors.New("size must be a number")
	}
	*s = flexibleSize(n)
	return nil
}

type generateRequest struct {
	Type        string       `json:"type"`
	Style       string       `json:"style"`
	Size        flexibleSize `json:"size"`
	Extras      []string     `json:"extras"`
	Description string       `json:"description"`
	SessionID   string       `json:"sessionId"`
}

type assetPayload struct {
	ID              string             `json:"id"`
	SVG             string             `json:"svg"`
	PNG             string             `json:"png"`
	DalleImage      string             `json:"dalleImage"`
	StorageImageURL *string            `json:"storageImageUrl"`
	Ephemeral       models.ImageRef    `json:"ephemeral"`
	Durable         *models.DurableRef `json:"durable"`
}

// inlineSVG returns sanitized markup for inline vector images and "" otherwise.
func inlineSVG(ref models.ImageRef) string {
	if ref.Kind != models.RefInline {
		return ""
	}
	if f, err := sniffer.Detect(ref.Data); err != nil || f != sniffer.SVG {
		return ""
	}
	if err := svg.Validate(ref.Data); err != nil {
		return ""
	}
	clean, err := svg.Sanitize(ref.Data)
	if err != nil {
		return ""
	}
	return string(clean)
}

type codePayload struct {
	DataURL string `json:"dataUrl"`
}

type metaPayload struct {
	Type          models.Kind  `json:"type"`
	Style         models.Style `json:"style"`
	Size          int          `json:"size"`
	Extras        []string     `json:"extras"`
	Checksum      string       `json:"checksum"`
	Description   string       `json:"description"`
	Model         string       `json:"model,omitempty"`
	RevisedPrompt string       `json:"revisedPrompt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

type generateResponse struct {
	Status    string       `json:"status"`
	SessionID string       `json:"sessionId"`
	Asset     assetPayload `json:"asset"`
	Code      codePayload  `json:"code"`
	Meta      metaPayload  `json:"meta"`
	Message   string       `json:"message"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (h HandlerSet) Generate(c *gin.Context) {
	if h.cfg != nil && h.cfg.HTTP.MaxBodyBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.HTTP.MaxBodyBytes)
	}

	var body generateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, errorResponse{Status: "error", Message: "request body too large", Code: "body_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, errorResponse{Status: "error", Message: "invalid request body: " + err.Error(), Code: "invalid_request"})
		return
	}

	sessionID := strings.TrimSpace(c.GetHeader(sessionHeader))
	if sessionID == "" {
		sessionID = strings.TrimSpace(body.SessionID)
	}
	if sessionID == "" {
		sessionID = ids.New()
	}
	userID := strings.TrimSpace(c.GetHeader(userHeader))
	if userID == "" {
		userID = persistence.AnonymousUser
	}
	c.Header(sessionHeader, sessionID)

	extras := body.Extras
	if extras == nil {
		extras = []string{}
	}

	asset, err := h.generator.Generate(c.Request.Context(), generation.Command{
		SessionID: sessionID,
		UserID:    userID,
		Request: models.GenerationRequest{
			Kind:        models.Kind(strings.TrimSpace(body.Type)),
			Style:       models.Style(strings.TrimSpace(body.Style)),
			Size:        int(body.Size),
			Extras:      extras,
			Description: body.Description,
		},
	})
	if err != nil {
		status, resp := generationError(err)
		if status >= http.StatusInternalServerError {
			h.log.Error().Err(err).Str("session_id", sessionID).Msg("generate failed")
		}
		c.JSON(status, resp)
		return
	}

	c.JSON(http.StatusOK, buildGenerateResponse(sessionID, asset))
}

func buildGenerateResponse(sessionID string, asset models.GeneratedAsset) generateResponse {
	dataURL := asset.Ephemeral.DataURL()
	var storageURL *string
	if asset.Durable != nil && asset.Durable.URL != "" {
		u := asset.Durable.URL
		storageURL = &u
	}
	extras := asset.Metadata.Extras
	if extras == nil {
		extras = []string{}
	}

	return generateResponse{
		Status:    "ok",
		SessionID: sessionID,
		Asset: assetPayload{
			ID:              asset.ID,
			SVG:             inlineSVG(asset.Ephemeral),
			PNG:             dataURL,
			DalleImage:      dataURL,
			StorageImageURL: storageURL,
			Ephemeral:       asset.Ephemeral,
			Durable:         asset.Durable,
		},
		Code: codePayload{DataURL: dataURL},
		Meta: metaPayload{
			Type:          asset.Metadata.Kind,
			Style:         asset.Metadata.Style,
			Size:          asset.Metadata.Size,
			Extras:        extras,
			Checksum:      asset.Checksum,
			Description:   asset.Metadata.Description,
			Model:         asset.Metadata.Model,
			RevisedPrompt: asset.Metadata.RevisedPrompt,
			CreatedAt:     asset.CreatedAt,
		},
		Message: asset.Metadata.Message,
	}
}

func generationError(err error) (int, errorResponse) {
	resp := errorResponse{Status: "error", Message: generation.UserMessage(err)}

	var (
		verr *models.ValidationError
		perr *provider.ProviderError
	)
	switch {
	case errors.As(err, &verr):
		resp.Code = "validation_error"
		return http.StatusBadRequest, resp
	case errors.Is(err, session.ErrAlreadyInProgress):
		resp.Code = "generation_in_progress"
		return http.StatusConflict, resp
	case errors.As(err, &perr):
		resp.Code = "provider_error"
		status := perr.StatusCode
		if status < http.StatusBadRequest || status > 599 {
			status = http.StatusBadGateway
		}
		return status, resp
	case errors.Is(err, provider.ErrEmptyResponse):
		resp.Code = "empty_response"
		return http.StatusBadGateway, resp
	default:
		resp.Code = "internal_error"
		return http.StatusInternalServerError, resp
	}
}
