package borrows

import (
	"fmt"

	"ELMS-backend/internal/lending/equipment"
)

// mergeReturn は保存済み明細（正）に返却申告をマージした新しい明細列と、
// 消耗品の在庫加算分を返す。入力は一切変更しない純関数。
//
//   - 照合キーは (equipment_id, equipment_name)。両方一致した明細だけ更新する。
//   - 申告に無いフィールドは保存値を維持する（差分再申請）。
//   - 申告に対応しない保存明細はそのまま素通し。
//   - 在庫加算は「今回申告の quantity_returned − 保存済み quantity_returned」の差分。
//     棄却後の再申請で二重加算しないため。
func mergeReturn(stored []BorrowItem, claims []ReturnItemClaim) ([]BorrowItem, []equipment.StockDelta, error) {
	type key struct {
		id   int64
		name string
	}

	index := make(map[key]int, len(stored))
	for i := range stored {
		index[key{stored[i].EquipmentID, stored[i].EquipmentName}] = i
	}

	merged := make([]BorrowItem, len(stored))
	for i := range stored {
		merged[i] = copyItem(&stored[i])
	}

	var deltas []equipment.StockDelta
	for ci := range claims {
		claim := &claims[ci]
		idx, ok := index[key{claim.EquipmentID, claim.EquipmentName}]
		if !ok {
			return nil, nil, ErrInvalid(fmt.Sprintf(
				"return claim does not match any borrowed item: equipment_id=%d name=%q",
				claim.EquipmentID, claim.EquipmentName))
		}
		item := &merged[idx]

		if err := validateClaim(item, claim); err != nil {
			return nil, nil, err
		}

		prevReturned := 0
		if item.QuantityReturned != nil {
			prevReturned = *item.QuantityReturned
		}

		if claim.QuantityReturned != nil {
			v := *claim.QuantityReturned
			item.QuantityReturned = &v
		}
		if claim.ReturnCondition != nil {
			v := *claim.ReturnCondition
			item.ReturnCondition = &v
		}
		if claim.ConsumptionStatus != nil {
			v := *claim.ConsumptionStatus
			item.ConsumptionStatus = &v
		}
		if claim.ReturnNotes != nil {
			v := *claim.ReturnNotes
			item.ReturnNotes = &v
		}
		if len(claim.Codes) > 0 {
			item.ReturnedCodes = mergeCodes(item.ReturnedCodes, claim.Codes)
		}

		// 消耗品の在庫加算は差分で積む
		if item.Category == equipment.CategoryConsumable && claim.QuantityReturned != nil {
			if d := *claim.QuantityReturned - prevReturned; d != 0 {
				deltas = append(deltas, equipment.StockDelta{EquipmentID: item.EquipmentID, Delta: d})
			}
		}
	}

	return merged, deltas, nil
}

func validateClaim(item *BorrowItem, claim *ReturnItemClaim) error {
	if claim.QuantityReturned != nil {
		if *claim.QuantityReturned < 0 {
			return ErrInvalid(fmt.Sprintf("quantity_returned must be >= 0: equipment_id=%d", item.EquipmentID))
		}
		if *claim.QuantityReturned > item.QuantityBorrowed {
			return ErrInvalid(fmt.Sprintf(
				"quantity_returned %d exceeds quantity_borrowed %d: equipment_id=%d",
				*claim.QuantityReturned, item.QuantityBorrowed, item.EquipmentID))
		}
	}

	if item.Category == equipment.CategoryConsumable {
		// 消耗品に per-code 状態は存在しない
		if len(claim.Codes) > 0 {
			return ErrInvalid(fmt.Sprintf("consumable item must not carry per-code conditions: equipment_id=%d", item.EquipmentID))
		}
		if claim.ConsumptionStatus != nil && !claim.ConsumptionStatus.Valid() {
			return ErrInvalid(fmt.Sprintf("invalid consumption_status: %s", *claim.ConsumptionStatus))
		}
		return nil
	}

	// asset
	if claim.ConsumptionStatus != nil {
		return ErrInvalid(fmt.Sprintf("asset item must not carry consumption_status: equipment_id=%d", item.EquipmentID))
	}
	borrowed := make(map[string]struct{}, len(item.SerialCodes))
	for _, c := range item.SerialCodes {
		borrowed[c] = struct{}{}
	}
	seen := make(map[string]struct{}, len(claim.Codes))
	for _, cc := range claim.Codes {
		if !cc.Condition.Valid() {
			return ErrInvalid(fmt.Sprintf("invalid condition %q for serial code %s", cc.Condition, cc.SerialCode))
		}
		if _, ok := borrowed[cc.SerialCode]; !ok {
			return ErrInvalid(fmt.Sprintf("serial code %s was not borrowed on this transaction", cc.SerialCode))
		}
		if _, dup := seen[cc.SerialCode]; dup {
			return ErrInvalid(fmt.Sprintf("duplicate serial code in claim: %s", cc.SerialCode))
		}
		seen[cc.SerialCode] = struct{}{}
	}
	return nil
}

// mergeCodes: コード単位で上書きマージ。申告に無いコードの既存状態は残す。
func mergeCodes(existing []CodeCondition, claims []ReturnCodeClaim) []CodeCondition {
	out := make([]CodeCondition, len(existing))
	copy(out, existing)

	pos := make(map[string]int, len(out))
	for i := range out {
		pos[out[i].SerialCode] = i
	}

	for _, cc := range claims {
		c := CodeCondition{SerialCode: cc.SerialCode, Condition: cc.Condition}
		if cc.Notes != nil {
			c.Notes = *cc.Notes
		} else if i, ok := pos[cc.SerialCode]; ok {
			c.Notes = out[i].Notes
		}
		if i, ok := pos[cc.SerialCode]; ok {
			out[i] = c
		} else {
			pos[cc.SerialCode] = len(out)
			out = append(out, c)
		}
	}
	return out
}

func copyItem(it *BorrowItem) BorrowItem {
	cp := *it
	cp.SerialCodes = append([]string(nil), it.SerialCodes...)
	cp.ReturnedCodes = append([]CodeCondition(nil), it.ReturnedCodes...)
	if it.QuantityReturned != nil {
		v := *it.QuantityReturned
		cp.QuantityReturned = &v
	}
	if it.ConsumptionStatus != nil {
		v := *it.ConsumptionStatus
		cp.ConsumptionStatus = &v
	}
	if it.ReturnCondition != nil {
		v := *it.ReturnCondition
		cp.ReturnCondition = &v
	}
	if it.ReturnNotes != nil {
		v := *it.ReturnNotes
		cp.ReturnNotes = &v
	}
	return cp
}
