package inventory

import (
	"fmt"
	"time"

	"github.com/vigor-gym/vigor/internal/shared"
)

// MovementType classifies every stock movement. The values are the
// historical ledger vocabulary and must not be renamed; years of rows
// already carry them.
type MovementType string

const (
	MovementDirectSale      MovementType = "venta_directa"
	MovementLayawaySale     MovementType = "venta_apartado"
	MovementLayawayReserve  MovementType = "reserva_apartado"
	MovementLayawayRelease  MovementType = "cancelar_reserva"
	MovementRefund          MovementType = "devolucion"
	MovementPurchaseReceipt MovementType = "recepcion_compra"
	MovementAdjustmentUp    MovementType = "ajuste_manual_mas"
	MovementAdjustmentDown  MovementType = "ajuste_manual_menos"
	MovementTransferIn      MovementType = "transferencia_entrada"
	MovementTransferOut     MovementType = "transferencia_salida"
	MovementShrinkage       MovementType = "merma"
	MovementInitialStock    MovementType = "inventario_inicial"
)

// Direction describes how a movement type touches the product counters.
type Direction int

const (
	// DirectionIn increases current stock.
	DirectionIn Direction = iota
	// DirectionOut decreases current stock.
	DirectionOut
	// DirectionReserve moves units between available and reserved without
	// changing current stock. Reservation rows snapshot available stock
	// (current minus reserved) so their before/after arithmetic still
	// balances.
	DirectionReserve
)

// DirectionOf returns the counter a movement type drives.
func DirectionOf(t MovementType) (Direction, error) {
	switch t {
	case MovementRefund, MovementPurchaseReceipt, MovementAdjustmentUp,
		MovementTransferIn, MovementInitialStock:
		return DirectionIn, nil
	case MovementDirectSale, MovementLayawaySale, MovementAdjustmentDown,
		MovementTransferOut, MovementShrinkage:
		return DirectionOut, nil
	case MovementLayawayReserve, MovementLayawayRelease:
		return DirectionReserve, nil
	default:
		return 0, fmt.Errorf("%w: unknown movement type %q", ErrInvalidMovementType, t)
	}
}

// Product is one sellable item with live stock counters. AvailableStock
// is derived, never stored.
type Product struct {
	ID            string    `json:"id" db:"id"`
	Name          string    `json:"name" db:"name"`
	SKU           string    `json:"sku" db:"sku"`
	Category      string    `json:"category,omitempty" db:"category"`
	Price         float64   `json:"price" db:"price"`
	Cost          float64   `json:"cost" db:"cost"`
	TaxRate       float64   `json:"tax_rate" db:"tax_rate"`
	CurrentStock  int       `json:"current_stock" db:"current_stock"`
	ReservedStock int       `json:"reserved_stock" db:"reserved_stock"`
	MinStock      int       `json:"min_stock" db:"min_stock"`
	Active        bool      `json:"active" db:"active"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Available returns the stock a new sale may touch.
func (p Product) Available() int {
	return p.CurrentStock - p.ReservedStock
}

// Movement is one immutable ledger row. Quantity is signed; for every
// row NewStock equals PreviousStock plus Quantity. Stock-direction rows
// snapshot current stock, reservation rows snapshot available stock.
type Movement struct {
	ID            string       `json:"id" db:"id"`
	ProductID     string       `json:"product_id" db:"product_id"`
	ProductName   string       `json:"product_name,omitempty" db:"product_name"`
	Type          MovementType `json:"movement_type" db:"movement_type"`
	Quantity      int          `json:"quantity" db:"quantity"`
	PreviousStock int          `json:"previous_stock" db:"previous_stock"`
	NewStock      int          `json:"new_stock" db:"new_stock"`
	UnitCost      float64      `json:"unit_cost" db:"unit_cost"`
	ReferenceType string       `json:"reference_type,omitempty" db:"reference_type"`
	ReferenceID   string       `json:"reference_id,omitempty" db:"reference_id"`
	Notes         string       `json:"notes,omitempty" db:"notes"`
	CreatedBy     string       `json:"created_by" db:"created_by"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

var (
	// ErrProductNotFound indicates the product does not exist.
	ErrProductNotFound = fmt.Errorf("inventory: product %w", shared.ErrNotFound)
	// ErrInvalidMovementType rejects a movement outside the ledger vocabulary.
	ErrInvalidMovementType = fmt.Errorf("inventory: invalid movement type: %w", shared.ErrPrecondition)
	// ErrInvalidQuantity rejects a non-positive movement quantity.
	ErrInvalidQuantity = fmt.Errorf("inventory: quantity must be positive: %w", shared.ErrPrecondition)
	// ErrInsufficientStock rejects an outbound movement that available
	// stock cannot cover.
	ErrInsufficientStock = fmt.Errorf("inventory: insufficient stock: %w", shared.ErrPrecondition)
	// ErrInsufficientReservation rejects releasing more units than are reserved.
	ErrInsufficientReservation = fmt.Errorf("inventory: release exceeds reserved stock: %w", shared.ErrPrecondition)
)
