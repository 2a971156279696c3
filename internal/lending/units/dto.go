package units

import "time"

// 個体一括登録（納品時にまとめて登録する想定）
type RegisterUnitsRequest struct {
	EquipmentID int64    `json:"equipment_id" binding:"required"`
	SerialCodes []string `json:"serial_codes" binding:"required"`
	Note        *string  `json:"note,omitempty"`
}

// 手動訂正。damaged / lost で返却された個体を修理・再発見後に戻す唯一の経路。
type SetAvailabilityRequest struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason" binding:"required"`
}

type UnitResponse struct {
	SerialCode   string    `json:"serial_code"`
	EquipmentID  int64     `json:"equipment_id"`
	Available    bool      `json:"available"`
	Note         *string   `json:"note,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ListFilter struct {
	EquipmentID *int64
	Available   *bool
}

func buildResponse(u *AssetUnit) UnitResponse {
	resp := UnitResponse{
		SerialCode:   u.SerialCode,
		EquipmentID:  u.EquipmentID,
		Available:    u.Available,
		RegisteredAt: u.RegisteredAt,
		UpdatedAt:    u.UpdatedAt,
	}
	if u.Note.Valid {
		v := u.Note.String
		resp.Note = &v
	}
	return resp
}
