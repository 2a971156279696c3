package borrows

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ELMS-backend/internal/lending/equipment"
)

func intp(v int) *int                              { return &v }
func strp(v string) *string                        { return &v }
func consp(v ConsumptionStatus) *ConsumptionStatus { return &v }

func assetItem(id int64, name string, qty int, codes ...string) BorrowItem {
	return BorrowItem{
		EquipmentID:      id,
		EquipmentName:    name,
		Category:         equipment.CategoryAsset,
		QuantityBorrowed: qty,
		SerialCodes:      codes,
	}
}

func consumableItem(id int64, name string, qty int) BorrowItem {
	return BorrowItem{
		EquipmentID:      id,
		EquipmentName:    name,
		Category:         equipment.CategoryConsumable,
		QuantityBorrowed: qty,
	}
}

func TestMergeReturn_AssetCodesMerged(t *testing.T) {
	stored := []BorrowItem{assetItem(1, "プロジェクター", 2, "PRJ-001", "PRJ-002")}
	claims := []ReturnItemClaim{{
		EquipmentID:      1,
		EquipmentName:    "プロジェクター",
		QuantityReturned: intp(2),
		Codes: []ReturnCodeClaim{
			{SerialCode: "PRJ-001", Condition: ConditionNormal},
			{SerialCode: "PRJ-002", Condition: ConditionDamaged, Notes: strp("レンズ割れ")},
		},
	}}

	merged, deltas, err := mergeReturn(stored, claims)
	require.NoError(t, err)
	require.Len(t, merged, 1)
	assert.Empty(t, deltas, "asset items never restock the shared counter")

	it := merged[0]
	require.NotNil(t, it.QuantityReturned)
	assert.Equal(t, 2, *it.QuantityReturned)
	require.Len(t, it.ReturnedCodes, 2)
	assert.Equal(t, ConditionNormal, it.ReturnedCodes[0].Condition)
	assert.Equal(t, ConditionDamaged, it.ReturnedCodes[1].Condition)
	assert.Equal(t, "レンズ割れ", it.ReturnedCodes[1].Notes)

	// 入力は変更されない
	assert.Nil(t, stored[0].QuantityReturned)
	assert.Empty(t, stored[0].ReturnedCodes)
}

func TestMergeReturn_AbsentFieldsPreserved(t *testing.T) {
	stored := []BorrowItem{assetItem(1, "三脚", 1, "TRI-001")}
	stored[0].ReturnNotes = strp("前回の申請メモ")
	stored[0].ReturnedCodes = []CodeCondition{{SerialCode: "TRI-001", Condition: ConditionDamaged, Notes: "脚が曲がっている"}}

	// 状態だけ訂正し、メモは申告しない
	claims := []ReturnItemClaim{{
		EquipmentID:   1,
		EquipmentName: "三脚",
		Codes:         []ReturnCodeClaim{{SerialCode: "TRI-001", Condition: ConditionNormal}},
	}}

	merged, _, err := mergeReturn(stored, claims)
	require.NoError(t, err)

	it := merged[0]
	require.NotNil(t, it.ReturnNotes)
	assert.Equal(t, "前回の申請メモ", *it.ReturnNotes)
	require.Len(t, it.ReturnedCodes, 1)
	assert.Equal(t, ConditionNormal, it.ReturnedCodes[0].Condition)
	assert.Equal(t, "脚が曲がっている", it.ReturnedCodes[0].Notes, "per-code notes survive when the claim omits them")
}

func TestMergeReturn_UnmatchedStoredItemPassedThrough(t *testing.T) {
	stored := []BorrowItem{
		assetItem(1, "プロジェクター", 1, "PRJ-001"),
		consumableItem(2, "乾電池", 10),
	}
	claims := []ReturnItemClaim{{
		EquipmentID:   1,
		EquipmentName: "プロジェクター",
		Codes:         []ReturnCodeClaim{{SerialCode: "PRJ-001", Condition: ConditionNormal}},
	}}

	merged, deltas, err := mergeReturn(stored, claims)
	require.NoError(t, err)
	require.Len(t, merged, 2)
	assert.Nil(t, merged[1].QuantityReturned)
	assert.Empty(t, deltas)
}

func TestMergeReturn_ConsumableRestockDelta(t *testing.T) {
	stored := []BorrowItem{consumableItem(2, "乾電池", 10)}
	claims := []ReturnItemClaim{{
		EquipmentID:       2,
		EquipmentName:     "乾電池",
		QuantityReturned:  intp(6),
		ConsumptionStatus: consp(ConsumptionPartial),
	}}

	merged, deltas, err := mergeReturn(stored, claims)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, equipment.StockDelta{EquipmentID: 2, Delta: 6}, deltas[0])
	require.NotNil(t, merged[0].ConsumptionStatus)
	assert.Equal(t, ConsumptionPartial, *merged[0].ConsumptionStatus)
}

func TestMergeReturn_ResubmissionRestocksOnlyDifference(t *testing.T) {
	// 棄却後の再申請。前回 6 本で加算済み → 今回 8 本なら差分 2 だけ積む
	stored := []BorrowItem{consumableItem(2, "乾電池", 10)}
	stored[0].QuantityReturned = intp(6)

	claims := []ReturnItemClaim{{
		EquipmentID:      2,
		EquipmentName:    "乾電池",
		QuantityReturned: intp(8),
	}}

	_, deltas, err := mergeReturn(stored, claims)
	require.NoError(t, err)
	require.Len(t, deltas, 1)
	assert.Equal(t, 2, deltas[0].Delta)

	// 同数の再申請は加算なし
	claims[0].QuantityReturned = intp(6)
	_, deltas, err = mergeReturn(stored, claims)
	require.NoError(t, err)
	assert.Empty(t, deltas)
}

func TestMergeReturn_UnmatchedClaimRejected(t *testing.T) {
	stored := []BorrowItem{assetItem(1, "プロジェクター", 1, "PRJ-001")}

	// id は合うが名前が違う
	claims := []ReturnItemClaim{{EquipmentID: 1, EquipmentName: "別の備品", QuantityReturned: intp(1)}}
	_, _, err := mergeReturn(stored, claims)
	require.Error(t, err)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestMergeReturn_OverReturnRejected(t *testing.T) {
	stored := []BorrowItem{consumableItem(2, "乾電池", 10)}
	claims := []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(11)}}

	_, _, err := mergeReturn(stored, claims)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestMergeReturn_NegativeQuantityRejected(t *testing.T) {
	stored := []BorrowItem{consumableItem(2, "乾電池", 10)}
	claims := []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(-1)}}

	_, _, err := mergeReturn(stored, claims)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestMergeReturn_UnborrowedSerialCodeRejected(t *testing.T) {
	stored := []BorrowItem{assetItem(1, "プロジェクター", 1, "PRJ-001")}
	claims := []ReturnItemClaim{{
		EquipmentID:   1,
		EquipmentName: "プロジェクター",
		Codes:         []ReturnCodeClaim{{SerialCode: "PRJ-999", Condition: ConditionNormal}},
	}}

	_, _, err := mergeReturn(stored, claims)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestMergeReturn_ConsumableWithCodesRejected(t *testing.T) {
	stored := []BorrowItem{consumableItem(2, "乾電池", 10)}
	claims := []ReturnItemClaim{{
		EquipmentID:   2,
		EquipmentName: "乾電池",
		Codes:         []ReturnCodeClaim{{SerialCode: "X-1", Condition: ConditionNormal}},
	}}

	_, _, err := mergeReturn(stored, claims)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestMergeReturn_AssetWithConsumptionStatusRejected(t *testing.T) {
	stored := []BorrowItem{assetItem(1, "プロジェクター", 1, "PRJ-001")}
	claims := []ReturnItemClaim{{
		EquipmentID:       1,
		EquipmentName:     "プロジェクター",
		ConsumptionStatus: consp(ConsumptionUsedUp),
	}}

	_, _, err := mergeReturn(stored, claims)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}
