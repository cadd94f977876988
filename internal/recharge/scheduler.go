// Package recharge queues auto-recharge requests raised after debits. The
// debit path only ever calls Signal, which never blocks; delivery happens on a
// background worker and failures are logged.
package recharge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/richardliu001/tenant-wallet/internal/model"
	"github.com/richardliu001/tenant-wallet/internal/repo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Request asks the payment side to top up a wallet.
type Request struct {
	TenantID     string          `json:"tenant_id"`
	WalletID     uint64          `json:"wallet_id"`
	Balance      decimal.Decimal `json:"balance"`
	Trigger      decimal.Decimal `json:"trigger"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
	PaymentToken string          `json:"payment_token,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
}

// Sink delivers a request somewhere durable.
type Sink interface {
	RequestRecharge(ctx context.Context, req Request) error
}

// Scheduler is a bounded queue drained by one worker.
type Scheduler struct {
	queue    chan Request
	sink     Sink
	log      *zap.SugaredLogger
	cooldown *expirable.LRU[string, time.Time]

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. A tenant signalled within cooldown of a
// previous accepted signal is ignored; cooldown <= 0 disables that.
func NewScheduler(sink Sink, queueSize int, cooldown time.Duration, log *zap.SugaredLogger) *Scheduler {
	if queueSize <= 0 {
		queueSize = 1
	}
	s := &Scheduler{
		queue: make(chan Request, queueSize),
		sink:  sink,
		log:   log,
		done:  make(chan struct{}),
	}
	if cooldown > 0 {
		s.cooldown = expirable.NewLRU[string, time.Time](10000, nil, cooldown)
	}
	return s
}

// Start launches the worker. It returns on ctx cancellation or Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.run(ctx)
}

// Stop waits for the worker to exit. Queued requests are abandoned.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
	s.wg.Wait()
}

// Signal enqueues req without blocking. false means the request was dropped:
// the tenant is cooling down or the queue is full.
func (s *Scheduler) Signal(req Request) bool {
	if s.cooldown != nil {
		if _, ok := s.cooldown.Peek(req.TenantID); ok {
			return false
		}
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	select {
	case s.queue <- req:
		if s.cooldown != nil {
			s.cooldown.Add(req.TenantID, req.RequestedAt)
		}
		return true
	default:
		s.log.Warnw("auto-recharge queue full, signal dropped", "tenant_id", req.TenantID)
		return false
	}
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case req := <-s.queue:
			s.deliver(ctx, req)
		}
	}
}

func (s *Scheduler) deliver(ctx context.Context, req Request) {
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.sink.RequestRecharge(dctx, req); err != nil {
		// let the next debit below the trigger try again
		if s.cooldown != nil {
			s.cooldown.Remove(req.TenantID)
		}
		s.log.Errorw("auto-recharge request failed", "tenant_id", req.TenantID, "error", err)
		return
	}
	s.log.Infow("auto-recharge requested", "tenant_id", req.TenantID,
		"balance", req.Balance.String(), "amount", req.Amount.String())
}

// OutboxSink records requests as outbox events; the poller ships them to Kafka.
type OutboxSink struct {
	repo repo.RepositoryInterface
}

func NewOutboxSink(r repo.RepositoryInterface) *OutboxSink { return &OutboxSink{repo: r} }

func (o *OutboxSink) RequestRecharge(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	evt := &model.OutboxEvent{
		Aggregate:   "Wallet",
		AggregateID: req.TenantID,
		EventType:   model.EventAutoRechargeRequested,
		Payload:     string(payload),
	}
	return o.repo.CreateOutboxEvent(ctx, o.repo.DB(ctx), evt)
}
