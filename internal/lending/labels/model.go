package labels

// PrintRow: 印刷1行分（CSV 1レコード）
type PrintRow struct {
	Checked       bool   // 印刷対象フラグ
	EquipmentName string // CSV 1列目
	Category      string // CSV 2列目
	SerialCode    string // CSV 3列目（バーコード元データ）
	Note          string // CSV 4列目
}

type PrintParams struct {
	TemplateWidthMM     int    // 期待するテンプレ幅（テンプレート名構築用）
	BarcodeType         string // バーコードのタイプ（"qrcode" など）
	UseHalfcut          bool   // 半切
	ConfirmTapeWidthDlg bool   // テープ幅確認ダイアログ
	EnablePrintLog      bool   // ログ出力
	PrinterName         string // 明示的にプリンタ指定する場合はセット（未指定なら既定）
}
