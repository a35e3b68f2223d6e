package workers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/events"
	"github.com/yoockh/closingdesk/internal/models"
)

// AuditSink persists auth events. The Mongo auth event repository satisfies it.
type AuditSink interface {
	Insert(ctx context.Context, e *models.AuthEvent) error
}

// AuditWorkerPool drains the auth event stream into the audit store through a
// Redis consumer group. Entries the sink rejects stay pending and are
// reclaimed after MinIdle; after MaxDeliveries attempts they move to
// DeadStream.
type AuditWorkerPool struct {
	Redis      *redis.Client
	Sink       AuditSink
	NumWorkers int

	Logger *logrus.Logger

	Stream         string
	Group          string
	ConsumerPrefix string
	Block          time.Duration

	ReclaimInterval time.Duration
	MinIdle         time.Duration
	MaxDeliveries   int64
	DeadStream      string

	wg sync.WaitGroup
}

func (p *AuditWorkerPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Sink == nil {
		return errors.New("AuditWorkerPool missing dependency: Redis/Sink must be set")
	}
	if p.Stream == "" {
		p.Stream = events.DefaultStream
	}
	if p.Group == "" {
		p.Group = "auth-audit"
	}
	if p.ConsumerPrefix == "" {
		p.ConsumerPrefix = "audit"
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Block <= 0 {
		p.Block = 5 * time.Second
	}
	if p.ReclaimInterval <= 0 {
		p.ReclaimInterval = 30 * time.Second
	}
	if p.MinIdle <= 0 {
		p.MinIdle = time.Minute
	}
	if p.MaxDeliveries <= 0 {
		p.MaxDeliveries = 5
	}
	if p.DeadStream == "" {
		p.DeadStream = p.Stream + ":dead"
	}
	if p.Logger == nil {
		p.Logger = logrus.New()
	}

	err := p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.runReclaimer(ctx)
	}()
	return nil
}

// Wait blocks until every consumer returned after ctx was cancelled.
func (p *AuditWorkerPool) Wait() { p.wg.Wait() }

func (p *AuditWorkerPool) runConsumer(ctx context.Context, consumer string) {
	// Entries delivered to this consumer before a restart get one pass first.
	p.drainOwnPending(ctx, consumer)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := p.read(ctx, consumer, ">")
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			p.Logger.WithError(err).WithField("consumer", consumer).Warn("audit stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
	}
}

// drainOwnPending walks the consumer's pending history once. Failed entries
// are skipped here and left to the reclaimer.
func (p *AuditWorkerPool) drainOwnPending(ctx context.Context, consumer string) {
	start := "0"
	for ctx.Err() == nil {
		msgs, err := p.read(ctx, consumer, start)
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				p.Logger.WithError(err).WithField("consumer", consumer).Warn("audit pending read failed")
			}
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
			start = msg.ID
		}
	}
}

func (p *AuditWorkerPool) read(ctx context.Context, consumer, start string) ([]redis.XMessage, error) {
	res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    p.Group,
		Consumer: consumer,
		Streams:  []string{p.Stream, start},
		Count:    10,
		Block:    p.Block,
	}).Result()
	if err != nil {
		return nil, err
	}
	var msgs []redis.XMessage
	for _, stream := range res {
		msgs = append(msgs, stream.Messages...)
	}
	return msgs, nil
}

func (p *AuditWorkerPool) runReclaimer(ctx context.Context) {
	t := time.NewTicker(p.ReclaimInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.reclaim(ctx)
		}
	}
}

// reclaim takes over entries idle for at least MinIdle, from any consumer, and
// retries them.
func (p *AuditWorkerPool) reclaim(ctx context.Context) {
	consumer := p.ConsumerPrefix + "-reclaim"
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := p.Redis.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   p.Stream,
			Group:    p.Group,
			Consumer: consumer,
			MinIdle:  p.MinIdle,
			Start:    start,
			Count:    10,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				p.Logger.WithError(err).Warn("audit reclaim failed")
			}
			return
		}
		for _, msg := range msgs {
			p.process(ctx, msg)
		}
		if len(msgs) == 0 || next == "0-0" {
			return
		}
		start = next
	}
}

// process stores one entry and acks it, or leaves it pending. An entry that
// keeps failing is parked on DeadStream.
func (p *AuditWorkerPool) process(ctx context.Context, msg redis.XMessage) {
	if p.handleMsg(ctx, msg) {
		_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
		return
	}
	if p.deliveries(ctx, msg.ID) >= p.MaxDeliveries {
		p.deadLetter(ctx, msg)
	}
}

func (p *AuditWorkerPool) deliveries(ctx context.Context, id string) int64 {
	pending, err := p.Redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: p.Stream,
		Group:  p.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 0
	}
	return pending[0].RetryCount
}

func (p *AuditWorkerPool) deadLetter(ctx context.Context, msg redis.XMessage) {
	log := p.Logger.WithFields(logrus.Fields{"redis_id": msg.ID, "dead_stream": p.DeadStream})

	values := make(map[string]any, len(msg.Values)+1)
	for k, v := range msg.Values {
		values[k] = v
	}
	values["source_id"] = msg.ID

	if err := p.Redis.XAdd(ctx, &redis.XAddArgs{Stream: p.DeadStream, Values: values}).Err(); err != nil {
		log.WithError(err).Error("audit dead-letter write failed")
		return
	}
	_ = p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err()
	log.Error("audit entry parked after repeated insert failures")
}

// handleMsg reports whether the entry may be acknowledged. Undecodable
// entries are acknowledged and dropped; store failures stay pending.
func (p *AuditWorkerPool) handleMsg(ctx context.Context, msg redis.XMessage) bool {
	log := p.Logger.WithField("redis_id", msg.ID)

	raw, _ := msg.Values["event"].(string)
	if raw == "" {
		log.Warn("audit entry without event payload")
		return true
	}

	var e models.AuthEvent
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		log.WithError(err).Warn("audit entry undecodable")
		return true
	}
	if e.EventID == "" {
		e.EventID = msg.ID
	}

	if err := p.Sink.Insert(ctx, &e); err != nil {
		log.WithError(err).WithFields(logrus.Fields{
			"event_id": e.EventID,
			"type":     e.Type,
		}).Error("audit insert failed")
		return false
	}
	log.WithFields(logrus.Fields{
		"event_id": e.EventID,
		"type":     e.Type,
		"user_id":  e.UserID,
	}).Debug("audit event stored")
	return true
}

func isBusyGroup(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "BUSYGROUP")
}
