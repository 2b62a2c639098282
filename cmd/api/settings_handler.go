package api

import (
	"net/http"
	"sync"

	"talent-inbox/internal/triage"
	"talent-inbox/pkg/ai"

	"github.com/gin-gonic/gin"
)

// SettingsHandler holds the settings that can be changed at runtime without a restart.
type SettingsHandler struct {
	mu            sync.RWMutex
	ollamaBaseURL string
	ollamaModel   string
	triage        *triage.Engine
}

func NewSettingsHandler(ollamaBaseURL, ollamaModel string, engine *triage.Engine) *SettingsHandler {
	return &SettingsHandler{
		ollamaBaseURL: ollamaBaseURL,
		ollamaModel:   ollamaModel,
		triage:        engine,
	}
}

// OllamaBaseURL returns the current runtime Ollama base URL
func (h *SettingsHandler) OllamaBaseURL() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ollamaBaseURL
}

// OllamaModel returns the current runtime Ollama model
func (h *SettingsHandler) OllamaModel() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ollamaModel
}

type UpdateOllamaSettingsRequest struct {
	OllamaBaseURL string `json:"ollama_base_url" binding:"required"`
	OllamaModel   string `json:"ollama_model,omitempty"`
}

// GET /api/settings/ollama
func (h *SettingsHandler) GetOllamaSettings(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ollama_base_url": h.OllamaBaseURL(),
		"ollama_model":    h.OllamaModel(),
	})
}

// PUT /api/settings/ollama
func (h *SettingsHandler) UpdateOllamaSettings(c *gin.Context) {
	var req UpdateOllamaSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.mu.Lock()
	h.ollamaBaseURL = req.OllamaBaseURL
	if req.OllamaModel != "" {
		h.ollamaModel = req.OllamaModel
	}
	h.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"message":         "Ollama settings updated successfully",
		"ollama_base_url": req.OllamaBaseURL,
		"ollama_model":    h.OllamaModel(),
	})
}

// TestOllamaConnection checks that the Ollama server is reachable.
// POST /api/settings/ollama/test
func (h *SettingsHandler) TestOllamaConnection(c *gin.Context) {
	var req struct {
		OllamaBaseURL string `json:"ollama_base_url"`
	}
	_ = c.ShouldBindJSON(&req)
	if req.OllamaBaseURL == "" {
		req.OllamaBaseURL = h.OllamaBaseURL()
	}

	if err := ai.NewOllamaGenerator(req.OllamaBaseURL, h.OllamaModel()).Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"connected": false,
			"error":     err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"connected":       true,
		"ollama_base_url": req.OllamaBaseURL,
	})
}

// UpdateTriageSettingsRequest toggles triage rules; omitted fields keep their value.
type UpdateTriageSettingsRequest struct {
	Enabled             *bool `json:"enabled"`
	AutoClassifyEnabled *bool `json:"auto_classify_enabled"`
}

// GET /api/settings/triage
func (h *SettingsHandler) GetTriageSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.triage.Settings())
}

// PUT /api/settings/triage
func (h *SettingsHandler) UpdateTriageSettings(c *gin.Context) {
	var req UpdateTriageSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	settings := h.triage.Settings()
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.AutoClassifyEnabled != nil {
		settings.AutoClassifyEnabled = *req.AutoClassifyEnabled
	}
	h.triage.UpdateSettings(settings)

	c.JSON(http.StatusOK, settings)
}
