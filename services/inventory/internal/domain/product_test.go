package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduct_Status(t *testing.T) {
	tests := []struct {
		quantity int
		status   InventoryStatus
	}{
		{0, InventoryStatusOutOfStock},
		{1, InventoryStatusLowStock},
		{9, InventoryStatusLowStock},
		{10, InventoryStatusInStock},
		{100, InventoryStatusInStock},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			p := &Product{Quantity: tt.quantity}
			assert.Equal(t, tt.status, p.Status())
		})
	}
}

func TestProduct_Allocate(t *testing.T) {
	p := &Product{Quantity: 100}

	require.NoError(t, p.Allocate(30))
	assert.Equal(t, 70, p.Quantity)

	require.NoError(t, p.Allocate(70))
	assert.Equal(t, 0, p.Quantity)
	assert.Equal(t, InventoryStatusOutOfStock, p.Status())
}

func TestProduct_Allocate_Insufficient(t *testing.T) {
	p := &Product{Quantity: 5}

	err := p.Allocate(6)

	assert.ErrorIs(t, err, ErrInsufficientQuantity)
	// Остаток не тронут
	assert.Equal(t, 5, p.Quantity)
}

func TestProduct_Allocate_InvalidQuantity(t *testing.T) {
	p := &Product{Quantity: 5}

	assert.ErrorIs(t, p.Allocate(0), ErrInvalidQuantity)
	assert.ErrorIs(t, p.Allocate(-1), ErrInvalidQuantity)
	assert.Equal(t, 5, p.Quantity)
}

func TestProduct_Release(t *testing.T) {
	p := &Product{Quantity: 0}

	require.NoError(t, p.Release(10))
	assert.Equal(t, 10, p.Quantity)

	// Верхней границы нет
	require.NoError(t, p.Release(1000000))
	assert.Equal(t, 1000010, p.Quantity)
}

func TestProduct_AllocateRelease_RoundTrip(t *testing.T) {
	// Компенсация возвращает остаток в точности к исходному состоянию
	p := &Product{Quantity: 42}

	require.NoError(t, p.Allocate(17))
	require.NoError(t, p.Release(17))

	assert.Equal(t, 42, p.Quantity)
}

func TestProduct_Validate(t *testing.T) {
	valid := Product{
		Name:     "Клавиатура",
		SKU:      "KB-001",
		Price:    4990,
		Quantity: 10,
	}

	tests := []struct {
		name    string
		mutate  func(*Product)
		wantErr error
	}{
		{"валидный товар", func(p *Product) {}, nil},
		{"нулевой остаток допустим", func(p *Product) { p.Quantity = 0 }, nil},
		{"бесплатный товар допустим", func(p *Product) { p.Price = 0 }, nil},
		{"пустое название", func(p *Product) { p.Name = "  " }, ErrInvalidName},
		{"пустой SKU", func(p *Product) { p.SKU = "" }, ErrInvalidSKU},
		{"отрицательная цена", func(p *Product) { p.Price = -1 }, ErrInvalidPrice},
		{"отрицательный остаток", func(p *Product) { p.Quantity = -1 }, ErrInvalidQuantity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			err := p.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
