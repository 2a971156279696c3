package equipment

import (
	"database/sql"
	"time"
)

// Category: 備品の管理区分。
// asset はシリアル個体管理、consumable は数量のみの消耗品管理。
type Category string

const (
	CategoryAsset      Category = "asset"
	CategoryConsumable Category = "consumable"
)

func (c Category) Valid() bool {
	return c == CategoryAsset || c == CategoryConsumable
}

// Equipment は equipment テーブルの1行を表す
type Equipment struct {
	EquipmentID int64
	Code        string // 管理コード（UNIQUE）
	Name        string
	Category    Category
	// 共有在庫。consumable は返却で加算される。
	// asset は登録個体数の目安で、台帳（asset_units.available）が正。
	Quantity  int
	Available bool // quantity > 0 の導出値
	Note      sql.NullString
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StockDelta: 返却申請1件に含まれる消耗品の在庫加算分。
// equipment_id キーのバッチで、同一Tx内で全件まとめて適用される。
type StockDelta struct {
	EquipmentID int64
	Delta       int
}
