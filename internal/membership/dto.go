package membership

// freezeRequest is the JSON body for single freeze/unfreeze endpoints.
type freezeRequest struct {
	Mode       Mode   `json:"mode" validate:"required,oneof=auto manual"`
	FreezeDays int    `json:"freeze_days" validate:"omitempty,min=1,max=365"`
	Reason     string `json:"reason" validate:"max=500"`
}

type unfreezeRequest struct {
	Mode   Mode   `json:"mode" validate:"required,oneof=auto manual"`
	Reason string `json:"reason" validate:"max=500"`
}

// bulkRequest is the JSON body for batch preview and execute.
type bulkRequest struct {
	Action        BulkAction `json:"action" validate:"required,oneof=freeze unfreeze"`
	Mode          Mode       `json:"mode" validate:"required,oneof=auto manual"`
	MembershipIDs []string   `json:"membership_ids" validate:"required,min=1,max=500,dive,uuid4"`
	FreezeDays    int        `json:"freeze_days" validate:"omitempty,min=1,max=365"`
	Reason        string     `json:"reason" validate:"max=500"`
}

func (r bulkRequest) toDomain() BulkRequest {
	return BulkRequest{
		Action:        r.Action,
		Mode:          r.Mode,
		MembershipIDs: r.MembershipIDs,
		FreezeDays:    r.FreezeDays,
		Reason:        r.Reason,
	}
}

type listResponse struct {
	Items []Membership `json:"items"`
	Total int          `json:"total"`
}

type bulkPreviewResponse struct {
	Items []BulkPreviewItem `json:"items"`
}
