package sales

type saleItemRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid4"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// createSaleRequest is the JSON body for both sale types; deposit is
// ignored for direct sales.
type createSaleRequest struct {
	CustomerID     *string           `json:"customer_id" validate:"omitempty,uuid4"`
	Items          []saleItemRequest `json:"items" validate:"required,min=1,dive"`
	DiscountAmount float64           `json:"discount_amount" validate:"omitempty,min=0"`
	PaymentMethod  string            `json:"payment_method" validate:"required,oneof=efectivo tarjeta transferencia"`
	DepositAmount  float64           `json:"deposit_amount" validate:"omitempty,min=0"`
	Notes          string            `json:"notes" validate:"max=500"`
}

func (r createSaleRequest) toDomain() CreateSaleInput {
	input := CreateSaleInput{
		CustomerID:     r.CustomerID,
		DiscountAmount: r.DiscountAmount,
		PaymentMethod:  r.PaymentMethod,
		DepositAmount:  r.DepositAmount,
		Notes:          r.Notes,
	}
	for _, it := range r.Items {
		input.Items = append(input.Items, SaleItemInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return input
}

type paymentRequest struct {
	Amount float64 `json:"amount" validate:"required,gt=0"`
	Method string  `json:"payment_method" validate:"required,oneof=efectivo tarjeta transferencia"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type refundItemRequest struct {
	SaleItemID string `json:"sale_item_id" validate:"required,uuid4"`
	Quantity   int    `json:"quantity" validate:"required,min=1"`
}

type refundRequest struct {
	Items  []refundItemRequest `json:"items" validate:"required,min=1,dive"`
	Reason string              `json:"reason" validate:"max=500"`
}

type listResponse struct {
	Items []Sale `json:"items"`
	Total int    `json:"total"`
}
