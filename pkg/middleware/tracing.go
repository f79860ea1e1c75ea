// Package middleware предоставляет Gin middleware для логирования,
// трейсинга и обработки паник — общие для HTTP-серверов всех сервисов.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/order-saga/pkg/logger"
)

// Заголовки для propagation trace информации между сервисами.
const (
	TraceIDHeader       = "X-Trace-Id"
	CorrelationIDHeader = "X-Correlation-Id"
)

// Tracing извлекает trace_id и correlation_id из заголовков запроса
// и кладёт их в context (а также в заголовки ответа).
// Если ID отсутствуют, генерирует новые UUID.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(TraceIDHeader)
		correlationID := c.GetHeader(CorrelationIDHeader)

		if traceID == "" {
			traceID = uuid.New().String()
		}
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Writer.Header().Set(TraceIDHeader, traceID)
		c.Writer.Header().Set(CorrelationIDHeader, correlationID)

		c.Next()
	}
}

// TraceIDFromContext извлекает trace_id из context запроса.
func TraceIDFromContext(c *gin.Context) string {
	return logger.TraceIDFromContext(c.Request.Context())
}

// CorrelationIDFromContext извлекает correlation_id из context запроса.
func CorrelationIDFromContext(c *gin.Context) string {
	return logger.CorrelationIDFromContext(c.Request.Context())
}

// InjectTraceHeaders добавляет trace_id/correlation_id в исходящий запрос
// к вышестоящему сервису через переданную функцию header.
func InjectTraceHeaders(c *gin.Context, header func(key, value string)) {
	header(TraceIDHeader, TraceIDFromContext(c))
	header(CorrelationIDHeader, CorrelationIDFromContext(c))
}
