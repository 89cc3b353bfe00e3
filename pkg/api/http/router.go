// Package http provides HTTP API handlers.
package http

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	"asisaid.cn/coda/internal/common/errors"
	"asisaid.cn/coda/internal/common/jsonutil"
	"asisaid.cn/coda/internal/service"
	"asisaid.cn/coda/internal/store"
	"asisaid.cn/coda/internal/tags"
)

// Handler provides HTTP handlers for the tag API.
type Handler struct {
	tagService *service.TagService
}

// NewHandler creates a new Handler.
func NewHandler(tagService *service.TagService) *Handler {
	// Query documents keep integer values exact.
	binding.EnableDecoderUseNumber = true
	return &Handler{
		tagService: tagService,
	}
}

// RegisterRoutes registers all API routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		// Queries
		api.POST("/files/query", h.QueryFiles)
		api.POST("/files/query/one", h.QueryOne)
		api.GET("/files/list", h.ListFiles)
		api.GET("/files/describe", h.DescribeFile)

		// Tracking
		api.POST("/files", h.TrackFiles)
		api.DELETE("/files", h.UntrackFiles)

		// Tags
		api.POST("/tags", h.TagFiles)
		api.DELETE("/tags", h.UntagFiles)

		// Health check
		api.GET("/health", h.HealthCheck)

		// Store status
		api.GET("/status", h.Status)
	}
}

// FileResponse is the wire form of a tracked file.
type FileResponse struct {
	Path     string         `json:"path"`
	Metadata *tags.Metadata `json:"metadata"`
}

// QueryRequest carries a predicate document.
type QueryRequest struct {
	Query map[string]any `json:"query"`
}

// PathsRequest names files or directories.
type PathsRequest struct {
	Paths    []string       `json:"paths" binding:"required,min=1,dive,required"`
	Metadata map[string]any `json:"metadata"`
}

// TagRequest sets or removes one key. Value is ignored on removal.
type TagRequest struct {
	Paths []string        `json:"paths" binding:"required,min=1,dive,required"`
	Key   string          `json:"key" binding:"required"`
	Value json.RawMessage `json:"value"`
}

func fileResponse(f *tags.File) FileResponse {
	return FileResponse{Path: f.Path(), Metadata: f.Metadata()}
}

func filesResponse(c *tags.Collection) gin.H {
	files := []FileResponse{}
	if c != nil {
		for f := range c.All() {
			files = append(files, fileResponse(f))
		}
	}
	return gin.H{
		"files": files,
		"count": len(files),
	}
}

// statusFor maps an error kind to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errors.ErrValidation),
		errors.Is(err, errors.ErrDiscovery),
		errors.Is(err, errors.ErrInvalidQuery),
		errors.Is(err, errors.ErrInvalidMetadata),
		errors.Is(err, errors.ErrUnsupportedOperand):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrReadOnly):
		return http.StatusForbidden
	case errors.Is(err, errors.ErrConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
	})
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error": err.Error(),
	})
}

// QueryFiles runs a predicate document against the store.
// POST /api/v1/files/query
func (h *Handler) QueryFiles(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	col, err := h.tagService.Query(c.Request.Context(), store.Query(req.Query))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, filesResponse(col))
}

// QueryOne returns the first file matching a predicate document.
// POST /api/v1/files/query/one
func (h *Handler) QueryOne(c *gin.Context) {
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	f, err := h.tagService.QueryOne(c.Request.Context(), store.Query(req.Query))
	if err != nil {
		respondError(c, err)
		return
	}
	if f == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "no matching file",
		})
		return
	}

	c.JSON(http.StatusOK, fileResponse(f))
}

// ListFiles lists tracked files under a directory.
// GET /api/v1/files/list?dir=
func (h *Handler) ListFiles(c *gin.Context) {
	dir := c.Query("dir")
	if dir == "" {
		dir = "/"
	}

	col, err := h.tagService.List(c.Request.Context(), dir)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := filesResponse(col)
	resp["dir"] = dir
	c.JSON(http.StatusOK, resp)
}

// DescribeFile returns one tracked file with its metadata.
// GET /api/v1/files/describe?path=
func (h *Handler) DescribeFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "path is required",
		})
		return
	}

	f, err := h.tagService.Describe(c.Request.Context(), path)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, fileResponse(f))
}

// TrackFiles starts tracking files and directories.
// POST /api/v1/files
func (h *Handler) TrackFiles(c *gin.Context) {
	var req PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	md, _ := jsonutil.Normalize(req.Metadata).(map[string]any)
	results, err := h.tagService.Track(c.Request.Context(), req.Paths, md)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"results": results,
	})
}

// UntrackFiles stops tracking files and directories.
// DELETE /api/v1/files
func (h *Handler) UntrackFiles(c *gin.Context) {
	var req PathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	counts, err := h.tagService.Untrack(c.Request.Context(), req.Paths)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"deleted": counts,
	})
}

// TagFiles sets a tag on files and directories.
// POST /api/v1/tags
func (h *Handler) TagFiles(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if len(req.Value) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "value is required",
		})
		return
	}
	value, err := jsonutil.Decode(req.Value)
	if err != nil {
		bindError(c, err)
		return
	}

	results, err := h.tagService.Tag(c.Request.Context(), req.Paths, req.Key, value)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
	})
}

// UntagFiles removes a tag from files and directories.
// DELETE /api/v1/tags
func (h *Handler) UntagFiles(c *gin.Context) {
	var req TagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	results, err := h.tagService.Untag(c.Request.Context(), req.Paths, req.Key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"results": results,
	})
}

// HealthCheck handles health check requests.
// GET /api/v1/health
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
	})
}

// Status reports the store configuration and connection state.
// GET /api/v1/status
func (h *Handler) Status(c *gin.Context) {
	st := h.tagService.Status(c.Request.Context())
	code := http.StatusOK
	if !st.Connected {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, st)
}
