package borrows

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ELMS-backend/internal/lending/equipment"
	"ELMS-backend/internal/platform/notify"
)

// ===== in-memory fakes =====

type memStore struct {
	borrows map[string]*Borrow
	units   map[string]bool // serial -> available
	stock   map[int64]int   // equipment_id -> quantity

	failStockApply bool
}

func newMemStore() *memStore {
	return &memStore{
		borrows: map[string]*Borrow{},
		units:   map[string]bool{},
		stock:   map[int64]int{},
	}
}

func cloneBorrow(b *Borrow) *Borrow {
	cp := *b
	cp.Items = make([]BorrowItem, len(b.Items))
	for i := range b.Items {
		cp.Items[i] = copyItem(&b.Items[i])
	}
	return &cp
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	return fn(&memTx{s: s})
}

func (s *memStore) GetBorrow(_ context.Context, id string) (*Borrow, error) {
	b, ok := s.borrows[id]
	if !ok {
		return nil, ErrNotFound("borrow not found: " + id)
	}
	return cloneBorrow(b), nil
}

func (s *memStore) ListBorrows(_ context.Context, _ ListFilter, _ Page) ([]Borrow, int64, error) {
	var out []Borrow
	for _, b := range s.borrows {
		out = append(out, *cloneBorrow(b))
	}
	return out, int64(len(out)), nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetBorrowForUpdate(_ context.Context, id string) (*Borrow, error) {
	b, ok := t.s.borrows[id]
	if !ok {
		return nil, ErrNotFound("borrow not found: " + id)
	}
	return cloneBorrow(b), nil
}

func (t *memTx) InsertBorrow(_ context.Context, b *Borrow) error {
	if _, ok := t.s.borrows[b.BorrowULID]; ok {
		return ErrConflict("borrow already exists: " + b.BorrowULID)
	}
	t.s.borrows[b.BorrowULID] = cloneBorrow(b)
	return nil
}

func (t *memTx) UpdateBorrow(_ context.Context, b *Borrow) error {
	cur, ok := t.s.borrows[b.BorrowULID]
	if !ok || cur.Version != b.Version {
		return &APIError{Code: CodeInvalidState, Message: "concurrent update detected"}
	}
	b.Version++
	t.s.borrows[b.BorrowULID] = cloneBorrow(b)
	return nil
}

func (t *memTx) MarkUnitsUnavailable(_ context.Context, codes []string) (int64, error) {
	var matched int64
	for _, c := range codes {
		if _, ok := t.s.units[c]; ok {
			t.s.units[c] = false
			matched++
		}
	}
	return matched, nil
}

func (t *memTx) MarkUnitsAvailable(_ context.Context, codes []string) (int64, error) {
	var matched int64
	for _, c := range codes {
		if _, ok := t.s.units[c]; ok {
			t.s.units[c] = true
			matched++
		}
	}
	return matched, nil
}

func (t *memTx) ApplyStockDeltas(_ context.Context, deltas []equipment.StockDelta) error {
	if t.s.failStockApply {
		return fmt.Errorf("update equipment 99: %w", equipment.ErrStockRowMissing)
	}
	for _, d := range deltas {
		if _, ok := t.s.stock[d.EquipmentID]; !ok {
			return fmt.Errorf("update equipment %d: %w", d.EquipmentID, equipment.ErrStockRowMissing)
		}
		t.s.stock[d.EquipmentID] += d.Delta
	}
	return nil
}

type capturePub struct {
	events []notify.Event
}

func (p *capturePub) Publish(ev notify.Event) { p.events = append(p.events, ev) }

func (p *capturePub) kinds() []notify.Kind {
	out := make([]notify.Kind, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqGen struct{ n int }

func (g *seqGen) New() (string, error) {
	g.n++
	return fmt.Sprintf("01TESTULID%016d", g.n), nil
}

func newTestService(store *memStore, pub *capturePub, opts Options) *Service {
	return &Service{
		store:  store,
		events: pub,
		clock:  fixedClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		id:     &seqGen{},
		opts:   opts,
	}
}

func validCreateReq() CreateBorrowRequest {
	return CreateBorrowRequest{
		RequesterID:    "s2210300",
		RequesterEmail: "s2210300@example.ac.jp",
		RequesterName:  "山田 太郎",
		BorrowType:     TypeDuringClass,
		Items: []BorrowItemRequest{
			{EquipmentID: 1, EquipmentName: "プロジェクター", Category: equipment.CategoryAsset, Quantity: 2,
				SerialCodes: []string{"PRJ-001", "PRJ-002"}},
			{EquipmentID: 2, EquipmentName: "乾電池", Category: equipment.CategoryConsumable, Quantity: 10},
		},
		ExpectedReturnAt: time.Date(2025, 6, 8, 17, 0, 0, 0, time.UTC),
	}
}

func seedUnits(s *memStore) {
	s.units["PRJ-001"] = true
	s.units["PRJ-002"] = true
	s.stock[2] = 90
}

// ===== create =====

func TestCreateBorrow_MarksUnitsUnavailable(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	pub := &capturePub{}
	svc := newTestService(store, pub, Options{})

	res, err := svc.CreateBorrow(context.Background(), validCreateReq())
	require.NoError(t, err)

	assert.Equal(t, StatusBorrowed, res.Status)
	assert.False(t, store.units["PRJ-001"])
	assert.False(t, store.units["PRJ-002"])
	assert.Equal(t, []notify.Kind{notify.KindBorrowCreated}, pub.kinds())
}

func TestCreateBorrow_AssetCodeCountMustMatchQuantity(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{}, Options{})

	req := validCreateReq()
	req.Items[0].SerialCodes = []string{"PRJ-001"} // qty 2 に対して 1 つ

	_, err := svc.CreateBorrow(context.Background(), req)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestCreateBorrow_DuplicateSerialCodeAcrossItems(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{}, Options{})

	req := validCreateReq()
	req.Items = append(req.Items, BorrowItemRequest{
		EquipmentID: 3, EquipmentName: "HDMIケーブル", Category: equipment.CategoryAsset,
		Quantity: 1, SerialCodes: []string{"PRJ-001"},
	})

	_, err := svc.CreateBorrow(context.Background(), req)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

// ===== full return flow =====

func TestReturnFlow_NormalAndDamagedCodes(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	pub := &capturePub{}
	svc := newTestService(store, pub, Options{ApproverEmail: "admin@example.ac.jp"})

	created, err := svc.CreateBorrow(context.Background(), validCreateReq())
	require.NoError(t, err)
	id := created.BorrowULID
	actor := Actor{ID: "mgr01", Name: "管理者"}

	_, err = svc.AcknowledgeReceipt(context.Background(), id, actor)
	require.NoError(t, err)

	// PRJ-001 は正常、PRJ-002 は破損。乾電池は 6 本返却
	submitted, err := svc.SubmitReturn(context.Background(), id, Actor{ID: "s2210300"}, SubmitReturnRequest{
		Items: []ReturnItemClaim{
			{
				EquipmentID: 1, EquipmentName: "プロジェクター",
				QuantityReturned: intp(2),
				Codes: []ReturnCodeClaim{
					{SerialCode: "PRJ-001", Condition: ConditionNormal},
					{SerialCode: "PRJ-002", Condition: ConditionDamaged, Notes: strp("レンズ割れ")},
				},
			},
			{
				EquipmentID: 2, EquipmentName: "乾電池",
				QuantityReturned:  intp(6),
				ConsumptionStatus: consp(ConsumptionPartial),
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingReturn, submitted.Status)
	assert.NotNil(t, submitted.ActualReturnAt)
	// 消耗品の在庫は申請時点で加算される
	assert.Equal(t, 96, store.stock[2])
	// 台帳は承認まで動かない
	assert.False(t, store.units["PRJ-001"])

	approved, err := svc.ApproveReturn(context.Background(), id, actor)
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, approved.Status)

	// normal のコードだけ台帳に戻る
	assert.True(t, store.units["PRJ-001"])
	assert.False(t, store.units["PRJ-002"], "damaged unit stays unavailable until manual correction")

	assert.Equal(t, []notify.Kind{
		notify.KindBorrowCreated,
		notify.KindReturnSubmitted,
		notify.KindReturnApproved,
	}, pub.kinds())
}

func TestSubmitReturn_OnlyFromBorrowed(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{})

	created, err := svc.CreateBorrow(context.Background(), validCreateReq())
	require.NoError(t, err)

	claim := SubmitReturnRequest{Items: []ReturnItemClaim{
		{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(10)},
	}}
	_, err = svc.SubmitReturn(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, claim)
	require.NoError(t, err)

	// pending_return からは再申請できない
	_, err = svc.SubmitReturn(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, claim)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
	assert.Contains(t, api.Message, created.BorrowULID)
	assert.Contains(t, api.Message, string(StatusPendingReturn))
}

func TestRejectReturn_RequiresReason(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	_, err := svc.SubmitReturn(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, SubmitReturnRequest{
		Items: []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(6)}},
	})
	require.NoError(t, err)

	_, err = svc.RejectReturn(context.Background(), created.BorrowULID, Actor{ID: "mgr01"}, RejectReturnRequest{Reason: "   "})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestRejectReturn_ResubmissionDoesNotDoubleRestock(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	pub := &capturePub{}
	svc := newTestService(store, pub, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	id := created.BorrowULID

	_, err := svc.SubmitReturn(context.Background(), id, Actor{ID: "s2210300"}, SubmitReturnRequest{
		Items: []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(6)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 96, store.stock[2])

	rejected, err := svc.RejectReturn(context.Background(), id, Actor{ID: "mgr01"}, RejectReturnRequest{Reason: "本数が合わない"})
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, rejected.Status)
	require.NotNil(t, rejected.AuditNotes)
	assert.Contains(t, *rejected.AuditNotes, "本数が合わない")

	// 8 本に訂正して再申請。加算は差分の 2 本だけ
	_, err = svc.SubmitReturn(context.Background(), id, Actor{ID: "s2210300"}, SubmitReturnRequest{
		Items: []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(8)}},
	})
	require.NoError(t, err)
	assert.Equal(t, 98, store.stock[2])
}

func TestSubmitReturn_StockRowMissingIsConsistencyError(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	store.failStockApply = true
	svc := newTestService(store, &capturePub{}, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	_, err := svc.SubmitReturn(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, SubmitReturnRequest{
		Items: []ReturnItemClaim{{EquipmentID: 2, EquipmentName: "乾電池", QuantityReturned: intp(6)}},
	})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeConsistency, api.Code)

	// 遷移は適用されない
	cur, err := svc.GetBorrow(context.Background(), created.BorrowULID)
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, cur.Status)
}

// ===== acknowledge =====

func TestAcknowledgeReceipt_OnlyOnce(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	actor := Actor{ID: "mgr01", Name: "管理者"}

	first, err := svc.AcknowledgeReceipt(context.Background(), created.BorrowULID, actor)
	require.NoError(t, err)
	assert.Equal(t, StatusBorrowed, first.Status)
	assert.NotNil(t, first.AcknowledgedAt)

	_, err = svc.AcknowledgeReceipt(context.Background(), created.BorrowULID, actor)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
}

// ===== cancel =====

func TestCancelBorrow_SecondCancelFails(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	req := CancelRequest{Reason: "授業が休講になった"}

	cancelled, err := svc.CancelBorrow(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, req)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	_, err = svc.CancelBorrow(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, req)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
	assert.Contains(t, api.Message, string(StatusCancelled))
}

func TestCancelBorrow_CodesStayReservedByDefault(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{ReleaseOnCancel: false})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	_, err := svc.CancelBorrow(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, CancelRequest{Reason: "不要になった"})
	require.NoError(t, err)

	assert.False(t, store.units["PRJ-001"])
	assert.False(t, store.units["PRJ-002"])
}

func TestCancelBorrow_ReleaseOnCancelFreesCodes(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{ReleaseOnCancel: true})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	_, err := svc.CancelBorrow(context.Background(), created.BorrowULID, Actor{ID: "s2210300"}, CancelRequest{Reason: "不要になった"})
	require.NoError(t, err)

	assert.True(t, store.units["PRJ-001"])
	assert.True(t, store.units["PRJ-002"])
}

// ===== misc guards =====

func TestApproveReturn_OnlyFromPendingReturn(t *testing.T) {
	store := newMemStore()
	seedUnits(store)
	svc := newTestService(store, &capturePub{}, Options{})

	created, _ := svc.CreateBorrow(context.Background(), validCreateReq())
	_, err := svc.ApproveReturn(context.Background(), created.BorrowULID, Actor{ID: "mgr01"})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
}

func TestGetBorrow_NotFound(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{}, Options{})

	_, err := svc.GetBorrow(context.Background(), "01UNKNOWN")
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeNotFound, api.Code)
}
