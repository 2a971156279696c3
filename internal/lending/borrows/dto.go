package borrows

import (
	"database/sql"
	"time"

	"ELMS-backend/internal/lending/equipment"
)

// Actor: 遷移を実行した操作者。認証ミドルウェアの sub / name から渡される。
type Actor struct {
	ID   string
	Name string
}

type BorrowItemRequest struct {
	EquipmentID   int64              `json:"equipment_id" binding:"required"`
	EquipmentName string             `json:"equipment_name" binding:"required"`
	Category      equipment.Category `json:"category" binding:"required"`
	Quantity      int                `json:"quantity" binding:"required"`
	// asset の場合は必須。数量と同数のシリアルコードを指定する。
	SerialCodes []string `json:"serial_codes,omitempty"`
}

type CreateBorrowRequest struct {
	RequesterID       string     `json:"requester_id" binding:"required"`
	RequesterEmail    string     `json:"requester_email" binding:"required"`
	RequesterName     string     `json:"requester_name" binding:"required"`
	RequesterIDNumber *string    `json:"requester_id_number,omitempty"`
	BorrowType        BorrowType `json:"borrow_type" binding:"required"`

	Items []BorrowItemRequest `json:"items" binding:"required"`

	// 未指定なら現在時刻（＝その場で手渡し）
	BorrowedAt       *time.Time `json:"borrowed_at,omitempty"`
	ExpectedReturnAt time.Time  `json:"expected_return_at" binding:"required"`

	ConditionBefore *string `json:"condition_before,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

// 返却申請の per-code 状態
type ReturnCodeClaim struct {
	SerialCode string         `json:"serial_code" binding:"required"`
	Condition  AssetCondition `json:"condition" binding:"required"`
	Notes      *string        `json:"notes,omitempty"`
}

// ReturnItemClaim: 明細1件分の返却申告。
// 省略したフィールドは保存済みの値が維持される（差分再申請ができる）。
type ReturnItemClaim struct {
	EquipmentID   int64  `json:"equipment_id" binding:"required"`
	EquipmentName string `json:"equipment_name" binding:"required"`

	QuantityReturned  *int               `json:"quantity_returned,omitempty"`
	ReturnCondition   *string            `json:"return_condition,omitempty"`
	ConsumptionStatus *ConsumptionStatus `json:"consumption_status,omitempty"`
	ReturnNotes       *string            `json:"return_notes,omitempty"`
	Codes             []ReturnCodeClaim  `json:"codes,omitempty"`
}

type SubmitReturnRequest struct {
	Items          []ReturnItemClaim `json:"items" binding:"required"`
	ConditionAfter *string           `json:"condition_after,omitempty"`
}

type RejectReturnRequest struct {
	Reason string `json:"reason"`
}

type CancelRequest struct {
	Reason string `json:"reason"`
}

// ---------- responses ----------

type CodeConditionResponse struct {
	SerialCode string         `json:"serial_code"`
	Condition  AssetCondition `json:"condition"`
	Notes      string         `json:"notes,omitempty"`
}

type BorrowItemResponse struct {
	EquipmentID       int64                   `json:"equipment_id"`
	EquipmentName     string                  `json:"equipment_name"`
	Category          equipment.Category      `json:"category"`
	QuantityBorrowed  int                     `json:"quantity_borrowed"`
	QuantityReturned  *int                    `json:"quantity_returned,omitempty"`
	SerialCodes       []string                `json:"serial_codes,omitempty"`
	ReturnedCodes     []CodeConditionResponse `json:"returned_codes,omitempty"`
	ConsumptionStatus *ConsumptionStatus      `json:"consumption_status,omitempty"`
	ReturnCondition   *string                 `json:"return_condition,omitempty"`
	ReturnNotes       *string                 `json:"return_notes,omitempty"`
}

type BorrowResponse struct {
	BorrowULID string `json:"borrow_ulid"`

	RequesterID       string  `json:"requester_id"`
	RequesterEmail    string  `json:"requester_email"`
	RequesterName     string  `json:"requester_name"`
	RequesterIDNumber *string `json:"requester_id_number,omitempty"`

	BorrowType BorrowType           `json:"borrow_type"`
	Items      []BorrowItemResponse `json:"items"`

	BorrowedAt       time.Time  `json:"borrowed_at"`
	ExpectedReturnAt time.Time  `json:"expected_return_at"`
	ActualReturnAt   *time.Time `json:"actual_return_at,omitempty"`

	ConditionBefore *string `json:"condition_before,omitempty"`
	ConditionAfter  *string `json:"condition_after,omitempty"`
	Notes           *string `json:"notes,omitempty"`

	Status BorrowStatus `json:"status"`

	AcknowledgedByID    *string    `json:"acknowledged_by_id,omitempty"`
	AcknowledgedByName  *string    `json:"acknowledged_by_name,omitempty"`
	AcknowledgedAt      *time.Time `json:"acknowledged_at,omitempty"`
	ReturnSubmittedByID *string    `json:"return_submitted_by_id,omitempty"`
	ReturnSubmittedAt   *time.Time `json:"return_submitted_at,omitempty"`
	ApprovedByID        *string    `json:"approved_by_id,omitempty"`
	ApprovedByName      *string    `json:"approved_by_name,omitempty"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	CancelledByID       *string    `json:"cancelled_by_id,omitempty"`
	CancelledByName     *string    `json:"cancelled_by_name,omitempty"`
	CancelReason        *string    `json:"cancel_reason,omitempty"`
	CancelledAt         *time.Time `json:"cancelled_at,omitempty"`

	AuditNotes *string `json:"audit_notes,omitempty"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func buildItemResponse(it *BorrowItem) BorrowItemResponse {
	resp := BorrowItemResponse{
		EquipmentID:       it.EquipmentID,
		EquipmentName:     it.EquipmentName,
		Category:          it.Category,
		QuantityBorrowed:  it.QuantityBorrowed,
		QuantityReturned:  it.QuantityReturned,
		SerialCodes:       it.SerialCodes,
		ConsumptionStatus: it.ConsumptionStatus,
		ReturnCondition:   it.ReturnCondition,
		ReturnNotes:       it.ReturnNotes,
	}
	for _, cc := range it.ReturnedCodes {
		resp.ReturnedCodes = append(resp.ReturnedCodes, CodeConditionResponse{
			SerialCode: cc.SerialCode,
			Condition:  cc.Condition,
			Notes:      cc.Notes,
		})
	}
	return resp
}

func buildBorrowResponse(b *Borrow) BorrowResponse {
	resp := BorrowResponse{
		BorrowULID:       b.BorrowULID,
		RequesterID:      b.RequesterID,
		RequesterEmail:   b.RequesterEmail,
		RequesterName:    b.RequesterName,
		BorrowType:       b.BorrowType,
		BorrowedAt:       b.BorrowedAt,
		ExpectedReturnAt: b.ExpectedReturnAt,
		Status:           b.Status,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
	for i := range b.Items {
		resp.Items = append(resp.Items, buildItemResponse(&b.Items[i]))
	}

	resp.RequesterIDNumber = strPtr(b.RequesterIDNumber)
	resp.ActualReturnAt = timePtr(b.ActualReturnAt)
	resp.ConditionBefore = strPtr(b.ConditionBefore)
	resp.ConditionAfter = strPtr(b.ConditionAfter)
	resp.Notes = strPtr(b.Notes)
	resp.AcknowledgedByID = strPtr(b.AcknowledgedByID)
	resp.AcknowledgedByName = strPtr(b.AcknowledgedByName)
	resp.AcknowledgedAt = timePtr(b.AcknowledgedAt)
	resp.ReturnSubmittedByID = strPtr(b.ReturnSubmittedByID)
	resp.ReturnSubmittedAt = timePtr(b.ReturnSubmittedAt)
	resp.ApprovedByID = strPtr(b.ApprovedByID)
	resp.ApprovedByName = strPtr(b.ApprovedByName)
	resp.ApprovedAt = timePtr(b.ApprovedAt)
	resp.CancelledByID = strPtr(b.CancelledByID)
	resp.CancelledByName = strPtr(b.CancelledByName)
	resp.CancelReason = strPtr(b.CancelReason)
	resp.CancelledAt = timePtr(b.CancelledAt)
	resp.AuditNotes = strPtr(b.AuditNotes)
	return resp
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	v := nt.Time
	return &v
}
