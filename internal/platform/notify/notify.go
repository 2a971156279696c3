// Package notify は状態遷移後の通知を担う。
// 遷移のコミットとは完全に分離された fire-and-forget キュー:
// Publish はブロックせず、配送失敗はログに残すだけで遷移結果には影響しない。
package notify

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindBorrowCreated       Kind = "borrow_created"
	KindReturnSubmitted     Kind = "return_submitted"
	KindReturnApproved      Kind = "return_approved"
	KindReturnRejected      Kind = "return_rejected"
	KindBorrowCancelled     Kind = "borrow_cancelled"
	KindReservationApproved Kind = "reservation_approved"
	KindReservationRejected Kind = "reservation_rejected"
)

type Event struct {
	ID        string
	Kind      Kind
	Recipient string
	Data      map[string]any
	EmittedAt time.Time
}

// Publisher はサービス層が見る最小の口。テストではフェイクに差し替える。
type Publisher interface {
	Publish(ev Event)
}

// Sink が実際の配送を行う。レンダリングや送信手段はこの層の関心外。
type Sink interface {
	Deliver(ctx context.Context, ev Event) error
}

// LogSink: 既定のシンク。配送内容をログに書くだけ。
type LogSink struct{}

func (LogSink) Deliver(_ context.Context, ev Event) error {
	log.Printf("[INFO] notify: kind=%s recipient=%s data=%v", ev.Kind, ev.Recipient, ev.Data)
	return nil
}

type Dispatcher struct {
	sink  Sink
	queue chan Event

	wg        sync.WaitGroup
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, queueSize int) *Dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		sink:  sink,
		queue: make(chan Event, queueSize),
	}
}

// Start はワーカーを起動する。Close まで queue を消費し続ける。
func (d *Dispatcher) Start() {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for ev := range d.queue {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := d.sink.Deliver(ctx, ev); err != nil {
				// 失敗しても再送はしない（状態遷移は既に確定している）
				log.Printf("[WARN] notify: delivery failed id=%s kind=%s recipient=%s: %v",
					ev.ID, ev.Kind, ev.Recipient, err)
			}
			cancel()
		}
	}()
}

// Publish はキューに積むだけで戻る。満杯なら落としてログに残す。
// 呼び出し側の遷移処理を通知でブロックさせない。
func (d *Dispatcher) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.EmittedAt.IsZero() {
		ev.EmittedAt = time.Now().UTC()
	}
	select {
	case d.queue <- ev:
	default:
		log.Printf("[WARN] notify: queue full, dropped id=%s kind=%s recipient=%s", ev.ID, ev.Kind, ev.Recipient)
	}
}

// Close はキューを閉じ、積み残しの配送を待つ。
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() { close(d.queue) })
	d.wg.Wait()
}

// Nop: 通知を完全に無効化したい場合（テスト・バッチ）に使う。
type Nop struct{}

func (Nop) Publish(Event) {}
