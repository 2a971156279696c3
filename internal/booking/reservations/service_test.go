package reservations

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ELMS-backend/internal/platform/notify"
)

// ===== in-memory fakes =====

type memStore struct {
	reservations map[string]*Reservation
}

func newMemStore() *memStore {
	return &memStore{reservations: map[string]*Reservation{}}
}

func cloneReservation(r *Reservation) *Reservation {
	cp := *r
	cp.PhotoRefs = append([]string(nil), r.PhotoRefs...)
	return &cp
}

func (s *memStore) InTx(_ context.Context, fn func(tx Tx) error) error {
	return fn(&memTx{s: s})
}

func (s *memStore) GetReservation(_ context.Context, id string) (*Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return nil, ErrNotFound("reservation not found: " + id)
	}
	return cloneReservation(r), nil
}

func (s *memStore) ListReservations(_ context.Context, _ ListFilter, _ Page) ([]Reservation, int64, error) {
	var out []Reservation
	for _, r := range s.reservations {
		out = append(out, *cloneReservation(r))
	}
	return out, int64(len(out)), nil
}

type memTx struct {
	s *memStore
}

func (t *memTx) GetReservationForUpdate(_ context.Context, id string) (*Reservation, error) {
	r, ok := t.s.reservations[id]
	if !ok {
		return nil, ErrNotFound("reservation not found: " + id)
	}
	return cloneReservation(r), nil
}

func (t *memTx) InsertReservation(_ context.Context, r *Reservation) error {
	if _, ok := t.s.reservations[r.ReservationULID]; ok {
		return ErrConflict("reservation already exists: " + r.ReservationULID)
	}
	t.s.reservations[r.ReservationULID] = cloneReservation(r)
	return nil
}

func (t *memTx) UpdateReservation(_ context.Context, r *Reservation) error {
	cur, ok := t.s.reservations[r.ReservationULID]
	if !ok || cur.Version != r.Version {
		return &APIError{Code: CodeInvalidState, Message: "concurrent update detected"}
	}
	r.Version++
	t.s.reservations[r.ReservationULID] = cloneReservation(r)
	return nil
}

type capturePub struct {
	events []notify.Event
}

func (p *capturePub) Publish(ev notify.Event) { p.events = append(p.events, ev) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type seqGen struct{ n int }

func (g *seqGen) New() (string, error) {
	g.n++
	return fmt.Sprintf("01TESTRESV%016d", g.n), nil
}

func newTestService(store *memStore, pub *capturePub) *Service {
	return &Service{
		store:  store,
		events: pub,
		clock:  fixedClock{t: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)},
		id:     &seqGen{},
	}
}

func validCreateReq() CreateReservationRequest {
	purpose := "ゼミ発表のリハーサル"
	return CreateReservationRequest{
		RoomID:         "R-301",
		RoomName:       "第3実習室",
		RequesterID:    "s2210300",
		RequesterName:  "山田 太郎",
		RequesterEmail: "s2210300@example.ac.jp",
		Purpose:        &purpose,
		StartsAt:       time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC),
		EndsAt:         time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC),
	}
}

// ===== tests =====

func TestCreateReservation_StartsPending(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{})

	res, err := svc.CreateReservation(context.Background(), validCreateReq())
	require.NoError(t, err)
	assert.Equal(t, StatusPending, res.Status)
	assert.Equal(t, int64(1), res.Version)
}

func TestCreateReservation_WindowMustBePositive(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{})

	req := validCreateReq()
	req.EndsAt = req.StartsAt

	_, err := svc.CreateReservation(context.Background(), req)
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestApproveReservation_NotifiesRequester(t *testing.T) {
	store := newMemStore()
	pub := &capturePub{}
	svc := newTestService(store, pub)

	created, _ := svc.CreateReservation(context.Background(), validCreateReq())
	approved, err := svc.ApproveReservation(context.Background(), created.ReservationULID, Actor{ID: "mgr01", Name: "管理者"})
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, approved.Status)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.KindReservationApproved, pub.events[0].Kind)
	assert.Equal(t, "s2210300@example.ac.jp", pub.events[0].Recipient)

	// 二重承認は敗者側が InvalidState
	_, err = svc.ApproveReservation(context.Background(), created.ReservationULID, Actor{ID: "mgr01"})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
}

func TestRejectReservation_ReasonMandatory(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{})

	created, _ := svc.CreateReservation(context.Background(), validCreateReq())
	_, err := svc.RejectReservation(context.Background(), created.ReservationULID, Actor{ID: "mgr01"}, RejectReservationRequest{Reason: "  "})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidArgument, api.Code)
}

func TestRejectReservation_SetsAdminCancelType(t *testing.T) {
	store := newMemStore()
	pub := &capturePub{}
	svc := newTestService(store, pub)

	created, _ := svc.CreateReservation(context.Background(), validCreateReq())
	rejected, err := svc.RejectReservation(context.Background(), created.ReservationULID, Actor{ID: "mgr01", Name: "管理者"},
		RejectReservationRequest{Reason: "同時間帯に別予約あり"})
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, rejected.Status)
	require.NotNil(t, rejected.CancelledByType)
	assert.Equal(t, string(CancelByAdmin), *rejected.CancelledByType)
	require.NotNil(t, rejected.CancelReason)
	assert.Equal(t, "同時間帯に別予約あり", *rejected.CancelReason)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.KindReservationRejected, pub.events[0].Kind)
	assert.Equal(t, "同時間帯に別予約あり", pub.events[0].Data["reason"])
}

func TestCancelReservation_UserTypeFromPendingOrApproved(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePub{})

	// pending からのキャンセル
	first, _ := svc.CreateReservation(context.Background(), validCreateReq())
	cancelled, err := svc.CancelReservation(context.Background(), first.ReservationULID, Actor{ID: "s2210300"}, CancelReservationRequest{})
	require.NoError(t, err)
	require.NotNil(t, cancelled.CancelledByType)
	assert.Equal(t, string(CancelByUser), *cancelled.CancelledByType)

	// approved からのキャンセル
	second, _ := svc.CreateReservation(context.Background(), validCreateReq())
	_, err = svc.ApproveReservation(context.Background(), second.ReservationULID, Actor{ID: "mgr01"})
	require.NoError(t, err)
	cancelled, err = svc.CancelReservation(context.Background(), second.ReservationULID, Actor{ID: "s2210300"}, CancelReservationRequest{})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)

	// cancelled からは不可
	_, err = svc.CancelReservation(context.Background(), second.ReservationULID, Actor{ID: "s2210300"}, CancelReservationRequest{})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
}

func TestMarkReturned_RecordsConditionAndPhotos(t *testing.T) {
	store := newMemStore()
	svc := newTestService(store, &capturePub{})

	created, _ := svc.CreateReservation(context.Background(), validCreateReq())
	_, err := svc.ApproveReservation(context.Background(), created.ReservationULID, Actor{ID: "mgr01"})
	require.NoError(t, err)

	notes := "机に飲み物の跡あり"
	returned, err := svc.MarkReturned(context.Background(), created.ReservationULID, Actor{ID: "s2210300"}, MarkReturnedRequest{
		ConditionNotes: &notes,
		PhotoRefs:      []string{"photos/r301-001.jpg", "photos/r301-002.jpg"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusReturned, returned.Status)
	require.NotNil(t, returned.ConditionNotes)
	assert.Equal(t, notes, *returned.ConditionNotes)
	assert.Len(t, returned.PhotoRefs, 2)
	assert.NotNil(t, returned.ReturnedAt)
}

func TestMarkReturned_OnlyFromApproved(t *testing.T) {
	svc := newTestService(newMemStore(), &capturePub{})

	created, _ := svc.CreateReservation(context.Background(), validCreateReq())
	_, err := svc.MarkReturned(context.Background(), created.ReservationULID, Actor{ID: "s2210300"}, MarkReturnedRequest{})
	var api *APIError
	require.ErrorAs(t, err, &api)
	assert.Equal(t, CodeInvalidState, api.Code)
	assert.Contains(t, api.Message, string(StatusPending))
}
