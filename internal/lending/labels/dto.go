package labels

// PrintUnitLabelsRequest: /labels/print
// serial_codes は登録済みユニットのコード。未登録コードはエラー。
type PrintUnitLabelsRequest struct {
	SerialCodes []string    `json:"serial_codes" binding:"required"`
	Config      PrintConfig `json:"config" binding:"required"`
	Width       int         `json:"width" binding:"required"`
	Type        string      `json:"type" binding:"required"`
}

type PrintConfig struct {
	UseHalfcut       bool `json:"use_halfcut"`
	ConfirmTapeWidth bool `json:"confirm_tape_width"`
	EnablePrintLog   bool `json:"enable_print_log"`
}

type PrintResponse struct {
	Printed int `json:"printed"`
}

// リクエスト例
/*
	{
		"serial_codes": ["PRJ-2025-0001", "PRJ-2025-0002"],
		"config": {
			"use_halfcut": true,
			"confirm_tape_width": true,
			"enable_print_log": false
		},
		"width": 12,
		"type": "qrcode"
	}
*/
