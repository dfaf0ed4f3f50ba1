package httpapi

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/webegress/gateway/internal/httpapi/docs"
	"github.com/webegress/gateway/internal/httpapi/handlers"
)

// RegisterRoutes wires spec.md §6's HTTP surface onto r, mirroring the
// teacher's RegisterRoutes(r *gin.Engine, h *handlers.Handler, ...) shape.
func RegisterRoutes(r *gin.Engine, h *handlers.Handler) {
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	r.GET("/version", h.Version)
	r.POST("/session", h.Session)
	r.GET("/metrics", h.Metrics)

	r.GET("/dns-query", h.DNSQueryGet)
	r.POST("/dns-query", h.DNSQueryPost)
	r.GET("/dns-json", h.DNSJSON)
}
