package reservations

import (
	"database/sql"
	"time"
)

// ===== 予約ステータス =====
type ReservationStatus string

const (
	StatusPending   ReservationStatus = "pending"
	StatusApproved  ReservationStatus = "approved"
	StatusCancelled ReservationStatus = "cancelled"
	StatusReturned  ReservationStatus = "returned"
)

func (s ReservationStatus) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// キャンセル実行者の区別。admin は reject 経由、user は自己キャンセル。
type CancelActorType string

const (
	CancelByAdmin CancelActorType = "admin"
	CancelByUser  CancelActorType = "user"
)

// ===== 予約レコード =====
// 部屋にはシリアル台帳がないため、returned への遷移は記録のみで
// 資源の解放を伴わない。
type Reservation struct {
	ReservationULID string
	RoomID          string
	RoomName        string
	RequesterID     string
	RequesterName   string
	RequesterEmail  string
	Purpose         sql.NullString
	StartsAt        time.Time
	EndsAt          time.Time
	Status          ReservationStatus

	ApprovedByID   sql.NullString
	ApprovedByName sql.NullString
	ApprovedAt     sql.NullTime

	CancelledByID   sql.NullString
	CancelledByName sql.NullString
	CancelledByType sql.NullString // CancelActorType
	CancelReason    sql.NullString
	CancelledAt     sql.NullTime

	// 返却時の部屋状態メモと損傷・清掃状況の写真参照。参考情報。
	ConditionNotes sql.NullString
	PhotoRefs      []string
	ReturnedAt     sql.NullTime

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

type ListFilter struct {
	RequesterID     string
	RoomID          string
	Status          *ReservationStatus
	From            *time.Time
	To              *time.Time
	OnlyOutstanding bool // cancelled / returned 以外
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
