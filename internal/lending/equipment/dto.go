package equipment

import "time"

type CreateEquipmentRequest struct {
	Code     string   `json:"code" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Category Category `json:"category" binding:"required"`
	Quantity int      `json:"quantity"`
	Note     *string  `json:"note,omitempty"`
}

// 手動在庫調整（棚卸し・廃棄など）
type AdjustStockRequest struct {
	Delta  int    `json:"delta" binding:"required"`
	Reason string `json:"reason"`
}

type EquipmentResponse struct {
	EquipmentID int64     `json:"equipment_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Category    Category  `json:"category"`
	Quantity    int       `json:"quantity"`
	Available   bool      `json:"available"`
	Note        *string   `json:"note,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ListFilter struct {
	Category *Category
	Keyword  string // name / code の部分一致
}

type Page struct {
	Limit  int
	Offset int
	Order  string // asc / desc (created_at)
}

func buildResponse(e *Equipment) EquipmentResponse {
	resp := EquipmentResponse{
		EquipmentID: e.EquipmentID,
		Code:        e.Code,
		Name:        e.Name,
		Category:    e.Category,
		Quantity:    e.Quantity,
		Available:   e.Available,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.Note.Valid {
		v := e.Note.String
		resp.Note = &v
	}
	return resp
}
