package inventory

// movementRequest is the JSON body for posting a generic movement.
type movementRequest struct {
	ProductID     string       `json:"product_id" validate:"required,uuid4"`
	Type          MovementType `json:"movement_type" validate:"required"`
	Quantity      int          `json:"quantity" validate:"required,min=1"`
	UnitCost      float64      `json:"unit_cost" validate:"omitempty,min=0"`
	ReferenceType string       `json:"reference_type" validate:"max=50"`
	ReferenceID   string       `json:"reference_id" validate:"omitempty,uuid4"`
	Notes         string       `json:"notes" validate:"max=500"`
}

type adjustRequest struct {
	Delta int    `json:"delta" validate:"required"`
	Notes string `json:"notes" validate:"max=500"`
}

type shrinkageRequest struct {
	Quantity int    `json:"quantity" validate:"required,min=1"`
	Notes    string `json:"notes" validate:"max=500"`
}

type initialStockRequest struct {
	Quantity int    `json:"quantity" validate:"min=0"`
	Notes    string `json:"notes" validate:"max=500"`
}

type transferRequest struct {
	Quantity int    `json:"quantity" validate:"required,min=1"`
	From     string `json:"from" validate:"required,max=100"`
	To       string `json:"to" validate:"required,max=100"`
	Notes    string `json:"notes" validate:"max=500"`
}

type receiptItem struct {
	ProductID string  `json:"product_id" validate:"required,uuid4"`
	Quantity  int     `json:"quantity" validate:"required,min=1"`
	UnitCost  float64 `json:"unit_cost" validate:"omitempty,min=0"`
}

type receiptRequest struct {
	PurchaseID string        `json:"purchase_id" validate:"required,uuid4"`
	Items      []receiptItem `json:"items" validate:"required,min=1,dive"`
}

type movementsResponse struct {
	Items []Movement `json:"items"`
}

type productsResponse struct {
	Items []Product `json:"items"`
}

type transferResponse struct {
	Out Movement `json:"out"`
	In  Movement `json:"in"`
}
