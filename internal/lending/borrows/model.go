package borrows

import (
	"database/sql"
	"time"

	"ELMS-backend/internal/lending/equipment"
)

// BorrowStatus: 貸出トランザクションの状態。
// 遷移は scheduled → borrowed → pending_return → returned、
// cancelled へは返却前の状態からのみ入れる。
type BorrowStatus string

const (
	StatusScheduled     BorrowStatus = "scheduled"
	StatusBorrowed      BorrowStatus = "borrowed"
	StatusPendingReturn BorrowStatus = "pending_return"
	StatusReturned      BorrowStatus = "returned"
	StatusCancelled     BorrowStatus = "cancelled"
)

type BorrowType string

const (
	TypeDuringClass BorrowType = "during_class"
	TypeTeaching    BorrowType = "teaching"
	TypeOutside     BorrowType = "outside"
)

func (t BorrowType) Valid() bool {
	return t == TypeDuringClass || t == TypeTeaching || t == TypeOutside
}

// AssetCondition: 返却時の個体状態。normal のみ台帳を available に戻す。
type AssetCondition string

const (
	ConditionNormal  AssetCondition = "normal"
	ConditionDamaged AssetCondition = "damaged"
	ConditionLost    AssetCondition = "lost"
)

func (c AssetCondition) Valid() bool {
	return c == ConditionNormal || c == ConditionDamaged || c == ConditionLost
}

type ConsumptionStatus string

const (
	ConsumptionUnused  ConsumptionStatus = "unused"
	ConsumptionPartial ConsumptionStatus = "partially_used"
	ConsumptionUsedUp  ConsumptionStatus = "used_up"
)

func (c ConsumptionStatus) Valid() bool {
	return c == ConsumptionUnused || c == ConsumptionPartial || c == ConsumptionUsedUp
}

// CodeCondition: シリアルコード1つ分の返却状態
type CodeCondition struct {
	SerialCode string
	Condition  AssetCondition
	Notes      string
}

// BorrowItem: 貸出明細1件。(EquipmentID, EquipmentName) が照合キー。
type BorrowItem struct {
	EquipmentID   int64
	EquipmentName string
	Category      equipment.Category

	QuantityBorrowed int
	QuantityReturned *int

	// asset のみ
	SerialCodes   []string        // 貸出時に確定する個体列
	ReturnedCodes []CodeCondition // 返却申請で埋まる。SerialCodes の部分集合。

	// consumable のみ
	ConsumptionStatus *ConsumptionStatus

	ReturnCondition *string
	ReturnNotes     *string
}

// Borrow は borrows テーブル1行＋明細を表す
type Borrow struct {
	BorrowULID string

	RequesterID       string
	RequesterEmail    string
	RequesterName     string
	RequesterIDNumber sql.NullString

	BorrowType BorrowType
	Items      []BorrowItem

	BorrowedAt       time.Time
	ExpectedReturnAt time.Time
	ActualReturnAt   sql.NullTime

	ConditionBefore sql.NullString
	ConditionAfter  sql.NullString
	Notes           sql.NullString

	Status BorrowStatus

	// 段階ごとの監査スタンプ。該当遷移を通過したときだけ埋まる。
	AcknowledgedByID    sql.NullString
	AcknowledgedByName  sql.NullString
	AcknowledgedAt      sql.NullTime
	ReturnSubmittedByID sql.NullString
	ReturnSubmittedAt   sql.NullTime
	ApprovedByID        sql.NullString
	ApprovedByName      sql.NullString
	ApprovedAt          sql.NullTime
	CancelledByID       sql.NullString
	CancelledByName     sql.NullString
	CancelReason        sql.NullString
	CancelledAt         sql.NullTime

	// 棄却理由などの追記ログ
	AuditNotes sql.NullString

	// 楽観ロック用。書き込み時に一致チェックして +1 する。
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssetSerialCodes: 全 asset 明細のシリアルコードをまとめて返す
func (b *Borrow) AssetSerialCodes() []string {
	var codes []string
	for i := range b.Items {
		if b.Items[i].Category == equipment.CategoryAsset {
			codes = append(codes, b.Items[i].SerialCodes...)
		}
	}
	return codes
}

// NormalReturnedCodes: 返却状態が normal と確定したコードだけを返す。
// damaged / lost は台帳に戻さない。
func (b *Borrow) NormalReturnedCodes() []string {
	var codes []string
	for i := range b.Items {
		if b.Items[i].Category != equipment.CategoryAsset {
			continue
		}
		for _, cc := range b.Items[i].ReturnedCodes {
			if cc.Condition == ConditionNormal {
				codes = append(codes, cc.SerialCode)
			}
		}
	}
	return codes
}

type ListFilter struct {
	RequesterID     string
	Status          *BorrowStatus
	BorrowType      *BorrowType
	From            *time.Time
	To              *time.Time
	OnlyOutstanding bool // returned / cancelled 以外
}

type Page struct {
	Limit  int
	Offset int
	Order  string
}
