package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"afterwon/internal/remote"
	"afterwon/internal/storage"
)

func (h HandlerSet) ProxyImage(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image URL is required"})
		return
	}
	h.proxy(c, h.fetcher, rawURL)
}

// ProxyStorage only serves objects below our own blob storage.
func (h HandlerSet) ProxyStorage(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Storage URL is required"})
		return
	}
	if !h.isStorageURL(rawURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid storage URL"})
		return
	}
	h.proxy(c, h.storageFetcher, rawURL)
}

func (h HandlerSet) proxy(c *gin.Context, fetcher ImageFetcher, rawURL string) {
	img, err := fetcher.Fetch(c.Request.Context(), rawURL)
	if err != nil {
		h.writeFetchError(c, err, "Failed to proxy image")
		return
	}

	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, img.ContentType, img.Data)
}

func (h HandlerSet) CheckImage(c *gin.Context) {
	rawURL := c.Query("url")
	if rawURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Image URL is required"})
		return
	}

	info, err := h.fetcher.Check(c.Request.Context(), rawURL)
	if err != nil {
		var statusErr *remote.StatusError
		if errors.As(err, &statusErr) {
			c.JSON(http.StatusNotFound, gin.H{
				"exists":  false,
				"status":  statusErr.StatusCode,
				"message": http.StatusText(statusErr.StatusCode),
			})
			return
		}
		h.writeFetchError(c, err, "Failed to check image")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":        true,
		"contentType":   info.ContentType,
		"contentLength": info.ContentLength,
		"lastModified":  info.LastModified,
		"etag":          info.ETag,
	})
}

func (h HandlerSet) writeFetchError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, remote.ErrInvalidURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid URL format"})
	case errors.Is(err, remote.ErrUnsafeURL):
		c.JSON(http.StatusBadRequest, gin.H{"error": "URL not allowed"})
	case errors.Is(err, remote.ErrTimeout):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error":   "Request timeout",
			"message": "Image fetch timed out",
		})
	default:
		h.log.Warn().Err(err).Msg("remote image fetch failed")
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   fallback,
			"message": err.Error(),
		})
	}
}

func (h HandlerSet) isStorageURL(rawURL string) bool {
	if h.cfg == nil {
		return false
	}
	base := storage.PublicURL(h.cfg.Storage, "")
	return base != "" && strings.HasPrefix(rawURL, base)
}
