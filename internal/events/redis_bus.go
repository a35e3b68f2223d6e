package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/closingdesk/internal/models"
)

const DefaultStream = "auth:events"

// RedisBus fans events out on a per-user pub/sub channel and appends them to a
// stream the audit workers drain.
type RedisBus struct {
	rdb    *redis.Client
	stream string
	maxLen int64
	log    *logrus.Logger
}

func NewRedisBus(rdb *redis.Client, log *logrus.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, stream: DefaultStream, maxLen: 100_000, log: log}
}

func (b *RedisBus) Stream() string { return b.stream }

func (b *RedisBus) Publish(ctx context.Context, e models.AuthEvent) error {
	if e.UserID == "" {
		return errors.New("auth event without user_id")
	}
	if e.EventID == "" {
		e.EventID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	pipe := b.rdb.TxPipeline()
	pipe.Publish(ctx, userChannel(e.UserID), payload)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: b.stream,
		MaxLen: b.maxLen,
		Approx: true,
		Values: map[string]any{"event": string(payload)},
	})
	_, err = pipe.Exec(ctx)
	return err
}

func (b *RedisBus) Subscribe(ctx context.Context, userID string) (Subscription, error) {
	ps := b.rdb.Subscribe(ctx, userChannel(userID))
	// wait for the subscription confirmation so no event published after return is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}

	s := &redisSubscription{
		ps:   ps,
		out:  make(chan models.AuthEvent, 16),
		done: make(chan struct{}),
	}
	go s.pump(b.log)
	return s, nil
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan models.AuthEvent
	done chan struct{}
	once sync.Once
}

func (s *redisSubscription) Events() <-chan models.AuthEvent { return s.out }

func (s *redisSubscription) pump(log *logrus.Logger) {
	defer close(s.out)
	msgs := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case m, ok := <-msgs:
			if !ok {
				return
			}
			var e models.AuthEvent
			if err := json.Unmarshal([]byte(m.Payload), &e); err != nil {
				if log != nil {
					log.WithError(err).WithField("channel", m.Channel).Warn("dropping undecodable auth event")
				}
				continue
			}
			select {
			case s.out <- e:
			case <-s.done:
				return
			}
		}
	}
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}
