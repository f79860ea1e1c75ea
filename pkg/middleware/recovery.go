// Package middleware предоставляет Gin middleware.
// Файл recovery.go содержит middleware для обработки паник.
package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/logger"
)

// Recovery перехватывает панику в handler'ах, логирует stack trace
// и возвращает 500 клиенту вместо падения процесса.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				stack := string(debug.Stack())

				logger.Error().
					Str("trace_id", TraceIDFromContext(c)).
					Str("correlation_id", CorrelationIDFromContext(c)).
					Str("path", c.Request.URL.Path).
					Interface("panic", r).
					Str("stack", stack).
					Msg("Перехвачена паника в HTTP handler")

				// Не раскрываем детали паники клиенту по соображениям безопасности.
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": "internal server error",
				})
			}
		}()

		c.Next()
	}
}
