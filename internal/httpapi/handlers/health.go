package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/webegress/gateway/internal/httpapi/models"
)

// Healthz godoc
// @Summary Liveness probe
// @Description Always returns 200; does not reflect readiness.
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /healthz [get]
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{OK: true})
}

// Readyz godoc
// @Summary Readiness probe
// @Description 200 while accepting new work, 503 during shutdown.
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Failure 503 {object} models.StatusResponse
// @Router /readyz [get]
func (h *Handler) Readyz(c *gin.Context) {
	if h.ShuttingDown.Load() {
		c.JSON(http.StatusServiceUnavailable, models.StatusResponse{OK: false})
		return
	}
	c.JSON(http.StatusOK, models.StatusResponse{OK: true})
}

// Version godoc
// @Summary Build version
// @Tags system
// @Produce json
// @Success 200 {object} models.VersionResponse
// @Router /version [get]
func (h *Handler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, models.VersionResponse{
		Name:    h.Build.Name,
		Version: h.Build.Version,
		Commit:  h.Build.Commit,
	})
}

// Session godoc
// @Summary Issue session endpoints and an optional session cookie
// @Tags system
// @Produce json
// @Success 201 {object} models.SessionResponse
// @Router /session [post]
func (h *Handler) Session(c *gin.Context) {
	resp := models.SessionResponse{
		Endpoints: models.SessionEndpoints{
			TCP:    h.PublicBaseURL + "/tcp",
			TCPMux: h.PublicBaseURL + "/tcp-mux",
		},
	}
	if h.SessionSigner != nil {
		if token := h.SessionSigner.Issue(); token != "" {
			resp.Cookie = token
		}
	}
	c.JSON(http.StatusCreated, resp)
}

// Metrics godoc
// @Summary Prometheus text exposition
// @Tags system
// @Produce text/plain
// @Success 200 {string} string
// @Router /metrics [get]
func (h *Handler) Metrics(c *gin.Context) {
	c.Status(http.StatusOK)
	c.Header("Content-Type", "text/plain; version=0.0.4")
	if h.Registry != nil {
		_ = h.Registry.WriteTo(c.Writer)
	}
}
