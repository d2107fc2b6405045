// Package webhooks delivers signed lifecycle events to per-tenant endpoints
// with an at-least-once, bounded-retry contract. Delivery is fully decoupled
// from the operations that trigger it: a failing webhook never fails its
// caller.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsemeet/backend/internal/models"
)

// Schedule is the fixed backoff between delivery attempts. Exhausting it
// without a 2xx drops the event; there is no dead-letter persistence.
var Schedule = []time.Duration{0, 30 * time.Second, 2 * time.Minute, 10 * time.Minute, 30 * time.Minute}

const attemptTimeout = 10 * time.Second

// SubscriptionSource resolves a tenant's endpoint. nil, nil means the tenant
// has no subscription and the event is silently discarded.
type SubscriptionSource interface {
	GetByTenant(ctx context.Context, tenantID uuid.UUID) (*models.WebhookSubscription, error)
}

// Event is the outbound payload shape.
type Event struct {
	Event     string    `json:"event"`
	Timestamp int64     `json:"timestamp"`
	TenantID  uuid.UUID `json:"tenantId"`
	Data      any       `json:"data"`
}

type job struct {
	tenantID uuid.UUID
	event    string
	data     any
}

// Dispatcher queues events onto a channel consumed by a worker, so request
// handling never waits on delivery retries.
type Dispatcher struct {
	subs          SubscriptionSource
	client        *http.Client
	logger        *zap.Logger
	defaultSecret string
	queue         chan job
	now           func() time.Time
	// sleep waits for d and reports false when the dispatcher is shutting
	// down. Injectable so tests skip the backoff.
	sleep func(ctx context.Context, d time.Duration) bool
	wg    sync.WaitGroup
}

// NewDispatcher creates a dispatcher. defaultSecret signs events for
// subscriptions that carry no secret of their own.
func NewDispatcher(subs SubscriptionSource, defaultSecret string, queueSize int, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Dispatcher{
		subs:          subs,
		client:        &http.Client{Timeout: attemptTimeout},
		logger:        logger,
		defaultSecret: defaultSecret,
		queue:         make(chan job, queueSize),
		now:           time.Now,
		sleep:         waitFor,
	}
}

// Notify enqueues a lifecycle event for delivery. Fire-and-forget: it never
// blocks the caller and never returns an error. If the queue is full the
// delivery runs on its own goroutine instead.
func (d *Dispatcher) Notify(_ context.Context, tenantID uuid.UUID, event string, data any) {
	j := job{tenantID: tenantID, event: event, data: data}
	select {
	case d.queue <- j:
	default:
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.deliver(context.Background(), j)
		}()
	}
}

// Run consumes the queue until ctx is cancelled. Each delivery runs on its
// own goroutine so a 30-minute backoff never blocks unrelated events.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case j := <-d.queue:
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.deliver(ctx, j)
			}()
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, j job) {
	sub, err := d.subs.GetByTenant(ctx, j.tenantID)
	if err != nil {
		d.logger.Error("webhook subscription lookup failed",
			zap.String("tenant_id", j.tenantID.String()), zap.Error(err))
		return
	}
	if sub == nil || sub.EndpointURL == "" {
		return
	}
	secret := sub.SigningSecret
	if secret == "" {
		secret = d.defaultSecret
	}

	now := d.now().Unix()
	ts := strconv.FormatInt(now, 10)
	body, err := json.Marshal(Event{
		Event:     j.event,
		Timestamp: now,
		TenantID:  j.tenantID,
		Data:      j.data,
	})
	if err != nil {
		d.logger.Error("webhook payload marshal failed", zap.String("event", j.event), zap.Error(err))
		return
	}
	sig := Sign(secret, ts, body)

	for attempt, delay := range Schedule {
		if !d.sleep(ctx, delay) {
			return
		}
		if d.attempt(ctx, sub.EndpointURL, j, ts, sig, body) {
			d.logger.Info("webhook delivered",
				zap.String("tenant_id", j.tenantID.String()),
				zap.String("event", j.event),
				zap.Int("attempt", attempt+1))
			return
		}
	}
	d.logger.Warn("webhook delivery dropped after retry schedule",
		zap.String("tenant_id", j.tenantID.String()),
		zap.String("event", j.event),
		zap.String("endpoint", sub.EndpointURL))
}

// attempt performs one POST. Transport errors and non-2xx statuses are
// equally retryable.
func (d *Dispatcher) attempt(ctx context.Context, url string, j job, ts, sig string, body []byte) bool {
	reqCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-Id", j.tenantID.String())
	req.Header.Set("X-Event", j.event)
	req.Header.Set("X-Timestamp", ts)
	req.Header.Set("X-Signature", sig)

	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Sign computes the delivery signature: sha256=<hex hmac_sha256(secret,
// timestamp + "." + body)>. Subscribers recompute it to authenticate events.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func waitFor(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
