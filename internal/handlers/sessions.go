package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"afterwon/internal/models"
	"afterwon/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type sessionAsset struct {
	models.GeneratedAsset
	AuthoritativeURL string `json:"authoritativeUrl"`
}

type sessionResponse struct {
	ID           string               `json:"id"`
	UserID       string               `json:"userId,omitempty"`
	Status       models.SessionStatus `json:"status"`
	CurrentAsset *sessionAsset        `json:"currentAsset"`
	LastError    string               `json:"lastError,omitempty"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

func (h HandlerSet) GetSession(c *gin.Context) {
	sess, err := h.sessions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.log.Error().Err(err).Str("session_id", c.Param("id")).Msg("load session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "session_unavailable"})
		return
	}

	resp := sessionResponse{
		ID:        sess.ID,
		UserID:    sess.UserID,
		Status:    sess.Status,
		LastError: sess.LastError,
		UpdatedAt: sess.UpdatedAt,
	}
	if sess.CurrentAsset != nil {
		resp.CurrentAsset = &sessionAsset{
			GeneratedAsset:   *sess.CurrentAsset,
			AuthoritativeURL: sess.CurrentAsset.Authoritative(),
		}
	}
	c.JSON(http.StatusOK, resp)
}

type generationRecord struct {
	ID            string                        `json:"id"`
	UserID        string                        `json:"userId"`
	SessionID     string                        `json:"sessionId"`
	Type          models.Kind                   `json:"type"`
	Style         models.Style                  `json:"style"`
	Size          int                           `json:"size"`
	Extras        []string                      `json:"extras"`
	Description   string                        `json:"description"`
	Checksum      string                        `json:"checksum"`
	Status        models.GenerationRecordStatus `json:"status"`
	ImageURL      *string                       `json:"imageUrl"`
	EphemeralHref *string                       `json:"ephemeralUrl,omitempty"`
	StoragePath   *string                       `json:"storagePath,omitempty"`
	LastError     *string                       `json:"lastError,omitempty"`
	CreatedAt     time.Time                     `json:"createdAt"`
	UpdatedAt     time.Time                     `json:"updatedAt"`
}

func toGenerationRecord(g models.Generation) generationRecord {
	imageURL := g.DurableURL
	if imageURL == nil {
		imageURL = g.EphemeralHref
	}
	extras := g.Extras
	if extras == nil {
		extras = []string{}
	}
	return generationRecord{
		ID:            g.ID,
		UserID:        g.UserID,
		SessionID:     g.SessionID,
		Type:          g.Kind,
		Style:         g.Style,
		Size:          g.Size,
		Extras:        extras,
		Description:   g.Description,
		Checksum:      g.Checksum,
		Status:        g.Status,
		ImageURL:      imageURL,
		EphemeralHref: g.EphemeralHref,
		StoragePath:   g.DurableKey,
		LastError:     g.LastError,
		CreatedAt:     g.CreatedAt,
		UpdatedAt:     g.UpdatedAt,
	}
}

func (h HandlerSet) GetGeneration(c *gin.Context) {
	if h.generations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history_unavailable"})
		return
	}

	g, err := h.generations.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, repository.ErrGenerationNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "generation_not_found"})
			return
		}
		h.log.Error().Err(err).Str("generation_id", c.Param("id")).Msg("load generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}
	c.JSON(http.StatusOK, toGenerationRecord(g))
}

func (h HandlerSet) ListUserGenerations(c *gin.Context) {
	if h.generations == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history_unavailable"})
		return
	}

	limit := queryInt(c, "limit", defaultPageSize)
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	offset := queryInt(c, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	userID := c.Param("userId")
	items, err := h.generations.ListByUser(c.Request.Context(), userID, limit, offset)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("list generations failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	out := make([]generationRecord, 0, len(items))
	for _, g := range items {
		out = append(out, toGenerationRecord(g))
	}
	c.JSON(http.StatusOK, gin.H{
		"items":  out,
		"limit":  limit,
		"offset": offset,
	})
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
