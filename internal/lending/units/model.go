package units

import (
	"database/sql"
	"time"
)

// AssetUnit: シリアル個体1つにつき1行。
// available は貸出〜正常返却の間ずっと false。
// damaged / lost で返却された個体は手動訂正するまで false のまま。
type AssetUnit struct {
	SerialCode   string
	EquipmentID  int64
	Available    bool
	Note         sql.NullString
	RegisteredAt time.Time
	UpdatedAt    time.Time
}
