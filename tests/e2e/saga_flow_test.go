//go:build e2e

// Package e2e — E2E тесты Saga flow через API Gateway.
// Требует поднятую систему (gateway + три сервиса + Kafka + MySQL + Redis).
// Запуск: go test -tags=e2e -v ./tests/e2e/...
package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	gatewayURL    = "http://localhost:8080"
	healthTimeout = 5 * time.Second
	sagaTimeout   = 15 * time.Second
	pollInterval  = 500 * time.Millisecond
)

// DTO — только используемые поля
type (
	createProductReq struct {
		Name     string  `json:"name"`
		SKU      string  `json:"sku"`
		Price    float64 `json:"price"`
		Quantity int     `json:"quantity"`
	}
	createProductResp struct {
		ProductID string `json:"product_id"`
	}
	productResp struct {
		Quantity int    `json:"quantity"`
		Status   string `json:"status"`
	}
	orderItemReq struct {
		ProductID string  `json:"product_id"`
		Quantity  int32   `json:"quantity"`
		UnitPrice float64 `json:"unit_price"`
	}
	createOrderReq struct {
		CustomerID string         `json:"customer_id"`
		Items      []orderItemReq `json:"items"`
	}
	createOrderResp struct {
		OrderID string `json:"order_id"`
		SagaID  string `json:"saga_id"`
		Status  string `json:"status"`
	}
	sagaEvent struct {
		EventType string `json:"event_type"`
	}
	orderResp struct {
		Status      string         `json:"status"`
		TotalAmount float64        `json:"total_amount"`
		Metadata    map[string]any `json:"metadata"`
		SagaHistory []sagaEvent    `json:"saga_history"`
	}
	cancelResp struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
		Message string `json:"message"`
	}
)

func TestMain(m *testing.M) {
	if !waitForGateway(healthTimeout) {
		fmt.Printf("⚠️  Gateway %s недоступен, E2E тесты пропущены\n", gatewayURL)
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func waitForGateway(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: 2 * time.Second}
	for time.Now().Before(deadline) {
		if resp, err := client.Get(gatewayURL + "/health"); err == nil && resp.StatusCode == 200 {
			resp.Body.Close()
			return true
		}
		time.Sleep(500 * time.Millisecond)
	}
	return false
}

// testClient — HTTP клиент с хелперами
type testClient struct{ http *http.Client }

func newTestClient() *testClient {
	return &testClient{http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *testClient) postJSON(t *testing.T, path string, body any, out any) int {
	t.Helper()

	data, err := json.Marshal(body)
	require.NoError(t, err)

	resp, err := c.http.Post(gatewayURL+path, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (c *testClient) getJSON(t *testing.T, path string, out any) int {
	t.Helper()

	resp, err := c.http.Get(gatewayURL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// createProduct заводит товар с уникальным SKU и возвращает его ID.
func (c *testClient) createProduct(t *testing.T, price float64, quantity int) string {
	t.Helper()

	var resp createProductResp
	status := c.postJSON(t, "/inventory/products", createProductReq{
		Name:     "e2e-товар-" + uuid.New().String()[:8],
		SKU:      "E2E-" + uuid.New().String(),
		Price:    price,
		Quantity: quantity,
	}, &resp)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, resp.ProductID)
	return resp.ProductID
}

func (c *testClient) productQuantity(t *testing.T, productID string) int {
	t.Helper()

	var resp productResp
	status := c.getJSON(t, "/inventory/products/"+productID, &resp)
	require.Equal(t, http.StatusOK, status)
	return resp.Quantity
}

// waitForOrderStatus опрашивает заказ, пока сага не доведёт его до
// ожидаемого статуса либо не истечёт sagaTimeout.
func (c *testClient) waitForOrderStatus(t *testing.T, orderID, expected string) orderResp {
	t.Helper()

	deadline := time.Now().Add(sagaTimeout)
	var last orderResp
	for time.Now().Before(deadline) {
		status := c.getJSON(t, "/orders/"+orderID+"?include_saga_history=true", &last)
		require.Equal(t, http.StatusOK, status)
		if last.Status == expected {
			return last
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("заказ %s не достиг статуса %s за %s (текущий: %s)", orderID, expected, sagaTimeout, last.Status)
	return last
}

func eventTypes(history []sagaEvent) []string {
	types := make([]string, len(history))
	for i, e := range history {
		types[i] = e.EventType
	}
	return types
}

// TestSagaFlow_HappyPath — счастливый путь: платёж и резервирование
// успешны, заказ доходит до INVENTORY_CONFIRMED, остатки списаны.
func TestSagaFlow_HappyPath(t *testing.T) {
	c := newTestClient()

	p1 := c.createProduct(t, 10.0, 100)
	p2 := c.createProduct(t, 20.0, 50)

	var created createOrderResp
	status := c.postJSON(t, "/orders", createOrderReq{
		CustomerID: "customer-e2e",
		Items: []orderItemReq{
			{ProductID: p1, Quantity: 2, UnitPrice: 10.0},
			{ProductID: p2, Quantity: 1, UnitPrice: 20.0},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.OrderID)
	require.NotEmpty(t, created.SagaID)

	order := c.waitForOrderStatus(t, created.OrderID, "INVENTORY_CONFIRMED")

	assert.InDelta(t, 40.0, order.TotalAmount, 0.001)
	assert.Equal(t, 98, c.productQuantity(t, p1))
	assert.Equal(t, 49, c.productQuantity(t, p2))

	// События саги в порядке публикации
	assert.Equal(t, []string{
		"order_created",
		"payment_requested",
		"payment_processed",
		"inventory_requested",
		"inventory_allocated",
	}, eventTypes(order.SagaHistory))
}

// TestSagaFlow_PartialStock — товара не хватает: резервы компенсируются,
// заказ FAILED, остатки не изменились.
func TestSagaFlow_PartialStock(t *testing.T) {
	c := newTestClient()

	p1 := c.createProduct(t, 10.0, 100)
	p2 := c.createProduct(t, 5.0, 10)

	var created createOrderResp
	status := c.postJSON(t, "/orders", createOrderReq{
		CustomerID: "customer-e2e",
		Items: []orderItemReq{
			{ProductID: p1, Quantity: 5, UnitPrice: 10.0},
			{ProductID: p2, Quantity: 200, UnitPrice: 5.0},
		},
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	order := c.waitForOrderStatus(t, created.OrderID, "FAILED")

	reason, _ := order.Metadata["inventory_failure_reason"].(string)
	assert.Contains(t, reason, "Insufficient quantity for product "+p2)

	// Компенсация вернула остатки в исходное состояние
	assert.Equal(t, 100, c.productQuantity(t, p1))
	assert.Equal(t, 10, c.productQuantity(t, p2))
}

// TestSagaFlow_CancelBeforePayment — немедленная отмена: CANCELLED,
// повторная отмена отклоняется.
func TestSagaFlow_CancelBeforePayment(t *testing.T) {
	c := newTestClient()

	p1 := c.createProduct(t, 10.0, 100)

	var created createOrderResp
	status := c.postJSON(t, "/orders", createOrderReq{
		CustomerID: "customer-e2e",
		Items:      []orderItemReq{{ProductID: p1, Quantity: 1, UnitPrice: 10.0}},
	}, &created)
	require.Equal(t, http.StatusCreated, status)

	var cancelled cancelResp
	status = c.postJSON(t, "/orders/"+created.OrderID+"/cancel",
		map[string]string{"reason": "buyer-remorse"}, &cancelled)

	// Сага уже могла уйти вперёд — отмена легальна из любого
	// нетерминального статуса до отгрузки
	if status == http.StatusOK {
		assert.True(t, cancelled.Success)
		assert.Equal(t, "CANCELLED", cancelled.Status)

		var order orderResp
		require.Equal(t, http.StatusOK,
			c.getJSON(t, "/orders/"+created.OrderID, &order))
		assert.Equal(t, "CANCELLED", order.Status)

		// Повторная отмена — 400, статус не меняется
		status = c.postJSON(t, "/orders/"+created.OrderID+"/cancel",
			map[string]string{"reason": "again"}, &cancelled)
		assert.Equal(t, http.StatusBadRequest, status)
	}
}

// TestGateway_UnknownPrefix — неизвестный префикс пути: 404.
func TestGateway_UnknownPrefix(t *testing.T) {
	c := newTestClient()

	status := c.getJSON(t, "/unknown/path", nil)

	assert.Equal(t, http.StatusNotFound, status)
}
