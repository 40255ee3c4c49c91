package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cardforge/card-service/internal/config"
)

func NewRouter(svc Services, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc)
	return r
}
