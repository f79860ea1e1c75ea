// Package proxy реализует обратное проксирование запросов на вышестоящие
// сервисы. Gateway маршрутизирует по префиксу пути: /orders и /customers —
// Order Service, /payments — Payment Service, /inventory — Inventory Service.
package proxy

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"

	"example.com/order-saga/pkg/circuitbreaker"
	"example.com/order-saga/pkg/logger"
)

// upstreamTimeout — таймаут запроса к вышестоящему сервису.
const upstreamTimeout = 30 * time.Second

// Upstream — вышестоящий сервис за gateway.
type Upstream struct {
	Name    string   // Имя сервиса (order-service, ...)
	BaseURL *url.URL // Базовый адрес сервиса
	proxy   *httputil.ReverseProxy
}

// NewUpstream создаёт прокси на вышестоящий сервис с Circuit Breaker:
// транспортные ошибки и 5xx открывают breaker, и gateway отвечает 503
// мгновенно, не дожидаясь таймаута.
func NewUpstream(name, rawURL string) (*Upstream, error) {
	baseURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("некорректный адрес сервиса %s: %w", name, err)
	}

	u := &Upstream{Name: name, BaseURL: baseURL}

	rp := httputil.NewSingleHostReverseProxy(baseURL)
	rp.Transport = circuitbreaker.RoundTripper(
		circuitbreaker.New(name),
		&http.Transport{ResponseHeaderTimeout: upstreamTimeout},
	)
	rp.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Ctx(r.Context()).Warn().
			Err(err).
			Str("upstream", name).
			Str("path", r.URL.Path).
			Msg("Вышестоящий сервис недоступен")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"detail": "Service '%s' is unavailable"}`, name)
	}

	u.proxy = rp
	return u, nil
}

// Handler возвращает Gin handler, пересылающий запрос как есть: метод,
// query string, заголовки (без Host — его подставляет транспорт) и тело.
// Статус, тело и заголовки ответа возвращаются клиенту без изменений.
func (u *Upstream) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Host = u.BaseURL.Host
		u.proxy.ServeHTTP(c.Writer, c.Request)
	}
}
