package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/substratehq/playground/internal/engine"
	"github.com/substratehq/playground/internal/fscache"
	"github.com/substratehq/playground/internal/infrastructure/logging"
	"github.com/substratehq/playground/internal/infrastructure/monitoring"
	"github.com/substratehq/playground/internal/template"
)

// Handlers contains the REST endpoint implementations.
type Handlers struct {
	engine   *engine.Engine
	registry *template.RegistryClient
	metrics  *monitoring.Metrics
	logger   *logging.Logger
}

// NewHandlers creates the handler set. registry may be nil when no remote
// template registry is configured; activation then requires an inline
// manifest.
func NewHandlers(eng *engine.Engine, registry *template.RegistryClient, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		engine:   eng,
		registry: registry,
		metrics:  metrics,
		logger:   logger.Named("http"),
	}
}

// Root describes the service.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "playground",
		"status":  "running",
	})
}

// Health reports liveness and the engine status.
func (h *Handlers) Health(c *gin.Context) {
	resp := gin.H{
		"status": "healthy",
		"engine": h.engine.Status(),
	}
	if h.metrics != nil {
		resp["uptime_seconds"] = int64(h.metrics.Uptime().Seconds())
	}
	c.JSON(http.StatusOK, resp)
}

// GetStatus reports the engine status, active template, and preview URL.
func (h *Handlers) GetStatus(c *gin.Context) {
	resp := gin.H{
		"status":      h.engine.Status(),
		"preview_url": h.engine.PreviewURL(),
	}
	if tmpl := h.engine.CurrentTemplate(); tmpl != nil {
		resp["template"] = gin.H{
			"id":   tmpl.ID,
			"name": tmpl.Name,
		}
	}
	tabs, active := h.engine.EditorState()
	resp["open_tabs"] = tabs
	resp["active_file"] = active
	c.JSON(http.StatusOK, resp)
}

// activateRequest carries either an inline template manifest or a registry
// id to resolve.
type activateRequest struct {
	ID       string             `json:"id"`
	Template *template.Template `json:"template"`
}

// resolveRequest produces the template for an activation request.
func (h *Handlers) resolveRequest(c *gin.Context, req activateRequest) (*template.Template, bool) {
	if req.Template != nil {
		if err := req.Template.Validate(); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "Invalid template: " + err.Error(),
			})
			return nil, false
		}
		return req.Template, true
	}

	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Either template or id is required",
		})
		return nil, false
	}
	if h.registry == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "No template registry configured; send an inline template",
		})
		return nil, false
	}

	tmpl, err := h.registry.Resolve(c.Request.Context(), req.ID)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return nil, false
	}
	return tmpl, true
}

// ActivateTemplate boots the sandbox (if needed) and mounts the template.
func (h *Handlers) ActivateTemplate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	tmpl, ok := h.resolveRequest(c, req)
	if !ok {
		return
	}

	if err := h.engine.Initialize(c.Request.Context(), tmpl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"template":    tmpl.ID,
		"status":      h.engine.Status(),
		"preview_url": h.engine.PreviewURL(),
	})
}

// SwitchTemplate migrates the live sandbox to another template.
func (h *Handlers) SwitchTemplate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	tmpl, ok := h.resolveRequest(c, req)
	if !ok {
		return
	}

	if err := h.engine.SwitchTemplate(c.Request.Context(), tmpl); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"template":    tmpl.ID,
		"status":      h.engine.Status(),
		"preview_url": h.engine.PreviewURL(),
	})
}

// GetFileTree lists the sandbox file tree.
func (h *Handlers) GetFileTree(c *gin.Context) {
	tree, err := h.engine.FileTree()
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"tree":    tree,
	})
}

// ReadFile returns one file's content.
func (h *Handlers) ReadFile(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "path query parameter is required",
		})
		return
	}

	content, err := h.engine.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    path,
		"content": content,
		"mime":    fscache.DetectMIME(content),
		"binary":  fscache.IsBinary(content),
	})
}

// WriteFile writes one file's content into the sandbox.
func (h *Handlers) WriteFile(c *gin.Context) {
	var req struct {
		Path    string `json:"path" binding:"required"`
		Content string `json:"content"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "Invalid request: " + err.Error(),
		})
		return
	}

	if err := h.engine.WriteFile(req.Path, req.Content); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"path":    req.Path,
	})
}

// SaveSnapshot persists the current session state on user request.
func (h *Handlers) SaveSnapshot(c *gin.Context) {
	var req struct {
		OpenTabs   []string `json:"openTabs"`
		ActiveFile string   `json:"activeFile"`
	}
	// Editor state in the body is optional.
	if err := c.ShouldBindJSON(&req); err == nil && (len(req.OpenTabs) > 0 || req.ActiveFile != "") {
		h.engine.SetEditorState(req.OpenTabs, req.ActiveFile)
	}

	if err := h.engine.SaveSnapshot(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
