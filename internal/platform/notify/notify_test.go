package notify

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu        sync.Mutex
	delivered []Event
	fail      bool
}

func (s *captureSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("smtp unreachable")
	}
	s.delivered = append(s.delivered, ev)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.delivered)
}

func TestDispatcher_DeliversQueuedEvents(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 16)
	d.Start()

	d.Publish(Event{Kind: KindBorrowCreated, Recipient: "a@example.ac.jp"})
	d.Publish(Event{Kind: KindReturnApproved, Recipient: "b@example.ac.jp"})
	d.Close()

	require.Equal(t, 2, sink.count())
	assert.Equal(t, KindBorrowCreated, sink.delivered[0].Kind)
	assert.NotEmpty(t, sink.delivered[0].ID, "dispatcher assigns an id when missing")
	assert.False(t, sink.delivered[0].EmittedAt.IsZero())
}

func TestDispatcher_DeliveryFailureDoesNotPropagate(t *testing.T) {
	sink := &captureSink{fail: true}
	d := NewDispatcher(sink, 16)
	d.Start()

	// 失敗してもパニックもブロックもしないことだけ確認する
	d.Publish(Event{Kind: KindReturnRejected, Recipient: "a@example.ac.jp"})
	d.Close()

	assert.Equal(t, 0, sink.count())
}

func TestDispatcher_PublishNeverBlocksWhenQueueFull(t *testing.T) {
	sink := &captureSink{}
	d := NewDispatcher(sink, 1)
	// ワーカーを起動しないのでキューは掃けない

	// ブロックするなら 2 回目でテストごとハングする
	for i := 0; i < 10; i++ {
		d.Publish(Event{Kind: KindBorrowCancelled, Recipient: "a@example.ac.jp"})
	}

	d.Start()
	d.Close()
	assert.Equal(t, 1, sink.count(), "only the buffered event survives, the rest are dropped")
}
