package reservations

import (
	"database/sql"
	"time"
)

// Actor: 操作者。認証ミドルウェアの sub / name から渡される。
type Actor struct {
	ID   string
	Name string
}

type CreateReservationRequest struct {
	RoomID         string    `json:"room_id" binding:"required"`
	RoomName       string    `json:"room_name" binding:"required"`
	RequesterID    string    `json:"requester_id" binding:"required"`
	RequesterName  string    `json:"requester_name" binding:"required"`
	RequesterEmail string    `json:"requester_email" binding:"required"`
	Purpose        *string   `json:"purpose,omitempty"`
	StartsAt       time.Time `json:"starts_at" binding:"required"`
	EndsAt         time.Time `json:"ends_at" binding:"required"`
}

type RejectReservationRequest struct {
	Reason string `json:"reason" binding:"required"`
}

type CancelReservationRequest struct {
	Reason *string `json:"reason,omitempty"`
}

// 返却記録。部屋状態メモと写真参照は参考情報で、何も解放しない。
type MarkReturnedRequest struct {
	ConditionNotes *string  `json:"condition_notes,omitempty"`
	PhotoRefs      []string `json:"photo_refs,omitempty"`
}

type ReservationResponse struct {
	ReservationULID string            `json:"reservation_ulid"`
	RoomID          string            `json:"room_id"`
	RoomName        string            `json:"room_name"`
	RequesterID     string            `json:"requester_id"`
	RequesterName   string            `json:"requester_name"`
	RequesterEmail  string            `json:"requester_email"`
	Purpose         *string           `json:"purpose,omitempty"`
	StartsAt        time.Time         `json:"starts_at"`
	EndsAt          time.Time         `json:"ends_at"`
	Status          ReservationStatus `json:"status"`

	ApprovedByID   *string    `json:"approved_by_id,omitempty"`
	ApprovedByName *string    `json:"approved_by_name,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`

	CancelledByID   *string    `json:"cancelled_by_id,omitempty"`
	CancelledByName *string    `json:"cancelled_by_name,omitempty"`
	CancelledByType *string    `json:"cancelled_by_type,omitempty"`
	CancelReason    *string    `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`

	ConditionNotes *string    `json:"condition_notes,omitempty"`
	PhotoRefs      []string   `json:"photo_refs,omitempty"`
	ReturnedAt     *time.Time `json:"returned_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

func buildReservationResponse(r *Reservation) ReservationResponse {
	resp := ReservationResponse{
		ReservationULID: r.ReservationULID,
		RoomID:          r.RoomID,
		RoomName:        r.RoomName,
		RequesterID:     r.RequesterID,
		RequesterName:   r.RequesterName,
		RequesterEmail:  r.RequesterEmail,
		StartsAt:        r.StartsAt,
		EndsAt:          r.EndsAt,
		Status:          r.Status,
		PhotoRefs:       r.PhotoRefs,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		Version:         r.Version,
	}
	resp.Purpose = strPtr(r.Purpose)
	resp.ApprovedByID = strPtr(r.ApprovedByID)
	resp.ApprovedByName = strPtr(r.ApprovedByName)
	resp.ApprovedAt = timePtr(r.ApprovedAt)
	resp.CancelledByID = strPtr(r.CancelledByID)
	resp.CancelledByName = strPtr(r.CancelledByName)
	resp.CancelledByType = strPtr(r.CancelledByType)
	resp.CancelReason = strPtr(r.CancelReason)
	resp.CancelledAt = timePtr(r.CancelledAt)
	resp.ConditionNotes = strPtr(r.ConditionNotes)
	resp.ReturnedAt = timePtr(r.ReturnedAt)
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
