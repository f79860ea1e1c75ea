// Package middleware предоставляет Gin middleware.
// Файл logging.go содержит middleware для логирования HTTP запросов.
package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/logger"
)

// Logging логирует каждый HTTP запрос: метод, путь, статус, длительность
// и trace информацию из context.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		event := logger.Info().
			Str("trace_id", TraceIDFromContext(c)).
			Str("correlation_id", CorrelationIDFromContext(c)).
			Str("method", c.Request.Method).
			Str("path", path).
			Int("status", status).
			Dur("duration", duration)

		if len(c.Errors) > 0 {
			event.Str("errors", c.Errors.String())
		}

		if status >= 500 {
			event.Msg("HTTP запрос завершился с ошибкой сервера")
		} else {
			event.Msg("HTTP запрос обработан")
		}
	}
}
