package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/LeventeLantos/kindergarten-notify/internal/cache"
	"github.com/LeventeLantos/kindergarten-notify/internal/metrics"
	"github.com/LeventeLantos/kindergarten-notify/internal/model"
	"github.com/LeventeLantos/kindergarten-notify/internal/repo"
)

// ChannelAdapter delivers one message and returns the provider's delivery id.
// Its failures are not classified: any error fails the message.
type ChannelAdapter interface {
	Send(ctx context.Context, m model.Message) (deliveryID string, err error)
}

type DispatcherOptions struct {
	BatchSize   int
	ContentMax  int
	SendTimeout time.Duration
}

// Dispatcher drives one batch of due messages per RunBatch call. It owns no
// timer; a scheduler, the HTTP trigger or the CLI decides when to run.
type Dispatcher struct {
	repo    repo.MessageRepository
	adapter ChannelAdapter
	opts    DispatcherOptions

	cache cache.MessageCache
	now   func() time.Time
}

func NewDispatcher(r repo.MessageRepository, adapter ChannelAdapter, opts DispatcherOptions) *Dispatcher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = repo.DefaultClaimLimit
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		repo:    r,
		adapter: adapter,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithCache records delivery receipts for sent messages. Cache failures are
// logged and never affect the message outcome.
func (d *Dispatcher) WithCache(c cache.MessageCache) *Dispatcher {
	d.cache = c
	return d
}

func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// RunBudget is the longest a full batch of sends can take.
func (d *Dispatcher) RunBudget() time.Duration {
	return time.Duration(d.opts.BatchSize) * d.opts.SendTimeout
}

// RunBatch claims up to BatchSize due messages and attempts each at most
// once, in scheduledAt order. Per-message failures are reported in the
// result; only a failed claim returns an error. When ctx ends mid-batch the
// messages not yet attempted are released back to pending.
func (d *Dispatcher) RunBatch(ctx context.Context) (model.BatchResult, error) {
	start := time.Now()
	defer func() { metrics.BatchDuration.Observe(time.Since(start).Seconds()) }()

	msgs, err := d.repo.ClaimBatch(ctx, d.opts.BatchSize, d.now())
	if err != nil {
		return model.BatchResult{}, fmt.Errorf("claim batch: %w", err)
	}

	res := model.BatchResult{
		Success: true,
		Results: make([]model.DeliveryResult, 0, len(msgs)),
	}
	for i, m := range msgs {
		if ctx.Err() != nil {
			res.Released = d.release(context.WithoutCancel(ctx), msgs[i:])
			break
		}
		res.Results = append(res.Results, d.deliver(ctx, m))
	}
	res.Processed = len(res.Results)

	sent, failed := res.Counts()
	if res.Processed > 0 || res.Released > 0 {
		slog.Info("dispatch batch completed",
			"processed", res.Processed, "sent", sent, "failed", failed, "released", res.Released)
	}
	return res, nil
}

func (d *Dispatcher) release(ctx context.Context, msgs []model.Message) int {
	released := 0
	for _, m := range msgs {
		if err := d.repo.Release(ctx, m.ID); err != nil {
			slog.Error("release message failed", "message_id", m.ID, "tenant_id", m.TenantID, "err", err)
			continue
		}
		released++
	}
	slog.Warn("dispatch run cancelled, messages released", "released", released, "claimed", len(msgs))
	return released
}

func (d *Dispatcher) deliver(ctx context.Context, m model.Message) model.DeliveryResult {
	// The outcome of an attempted send is recorded even if the run is
	// being cancelled.
	storeCtx := context.WithoutCancel(ctx)

	if d.opts.ContentMax > 0 && utf8.RuneCountInString(m.Content) > d.opts.ContentMax {
		return d.fail(storeCtx, m, fmt.Sprintf("content exceeds %d chars", d.opts.ContentMax))
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.opts.SendTimeout)
	deliveryID, err := d.adapter.Send(sendCtx, m)
	sendTimedOut := ctx.Err() == nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded)
	cancel()
	if err != nil {
		switch {
		case sendTimedOut:
			return d.fail(storeCtx, m, fmt.Sprintf("send timed out after %s: %v", d.opts.SendTimeout, err))
		case ctx.Err() != nil:
			return d.fail(storeCtx, m, fmt.Sprintf("dispatch run ended during send: %v", err))
		}
		return d.fail(storeCtx, m, err.Error())
	}

	sentAt := d.now()
	metrics.MessagesDispatched.WithLabelValues(string(model.Sent)).Inc()

	// Delivered, but the row stays processing until an operator resolves it.
	if err := d.repo.MarkSent(storeCtx, m.ID, deliveryID, sentAt); err != nil {
		slog.Error("mark sent failed", "message_id", m.ID, "tenant_id", m.TenantID, "delivery_id", deliveryID, "err", err)
		return model.DeliveryResult{
			ID:        m.ID,
			Status:    model.Processing,
			Recipient: m.Recipient,
			Error:     "delivered as " + deliveryID + "; mark sent: " + err.Error(),
		}
	}

	if d.cache != nil {
		if err := d.cache.StoreSent(storeCtx, m.ID, deliveryID, sentAt); err != nil {
			slog.Warn("delivery receipt cache write failed", "message_id", m.ID, "err", err)
		}
	}

	slog.Info("message sent", "message_id", m.ID, "tenant_id", m.TenantID, "delivery_id", deliveryID)
	return model.DeliveryResult{ID: m.ID, Status: model.Sent, Recipient: m.Recipient}
}

func (d *Dispatcher) fail(ctx context.Context, m model.Message, reason string) model.DeliveryResult {
	metrics.MessagesDispatched.WithLabelValues(string(model.Failed)).Inc()
	slog.Warn("message delivery failed", "message_id", m.ID, "tenant_id", m.TenantID, "reason", reason)

	if err := d.repo.MarkFailed(ctx, m.ID, reason); err != nil {
		slog.Error("mark failed failed", "message_id", m.ID, "tenant_id", m.TenantID, "err", err)
		reason = reason + "; mark failed: " + err.Error()
	}
	return model.DeliveryResult{ID: m.ID, Status: model.Failed, Error: reason}
}
