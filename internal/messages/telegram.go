// Package messages sends NationStates telegrams through the cooldown
// scheduler.
//
// The telegrams scheduler only paces; its executor relays every call
// through the api scheduler so telegram calls also count against the
// generic request budget.
package messages

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tagtimer/internal/dispatch"
	"tagtimer/internal/nsapi"
	logx "tagtimer/pkg/logx"
)

var (
	ErrNoClientKey = errors.New("messages: telegram client key is not configured")
	ErrNotQueued   = errors.New("messages: telegram was not queued")
	ErrNoRecipient = errors.New("messages: recipient is required")
	ErrNoTemplate  = errors.New("messages: telegram id and secret key are required")
)

// Telegram is one API telegram. TGID and Key identify the template.
type Telegram struct {
	To       string
	TGID     string
	Key      string
	Category dispatch.Category
}

// CategoryQueue is the telegrams scheduler as the service sees it.
type CategoryQueue interface {
	EnqueueCategory(target string, cat dispatch.Category) *dispatch.Ticket
}

// TicketQueue is the api scheduler as the relay sees it.
type TicketQueue interface {
	Enqueue(target string) *dispatch.Ticket
	Cancel(t *dispatch.Ticket) bool
}

type Config struct {
	ClientKey string
	// AwaitTimeout bounds one Send, cooldown wait included. Default: 15m.
	AwaitTimeout time.Duration
}

type Service struct {
	clientKey string
	timeout   time.Duration
	queue     CategoryQueue
	log       logx.Logger
}

func NewService(cfg Config, queue CategoryQueue, log logx.Logger) *Service {
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = 15 * time.Minute
	}
	return &Service{
		clientKey: strings.TrimSpace(cfg.ClientKey),
		timeout:   cfg.AwaitTimeout,
		queue:     queue,
		log:       log.With(logx.String("comp", "messages")),
	}
}

// Send queues tg on the telegrams scheduler and waits for the API to accept
// it. Recruitment telegrams hold the shared cooldown for longer.
func (s *Service) Send(ctx context.Context, tg Telegram) error {
	if s.clientKey == "" {
		return ErrNoClientKey
	}
	to := strings.TrimSpace(tg.To)
	if to == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(tg.TGID) == "" || strings.TrimSpace(tg.Key) == "" {
		return ErrNoTemplate
	}
	cat := tg.Category
	if cat != dispatch.CategoryRecruitment {
		cat = dispatch.CategoryNonRecruitment
	}

	t := s.queue.EnqueueCategory(nsapi.SendTGTarget(s.clientKey, tg.TGID, tg.Key, to), cat)
	s.log.Debug("telegram queued", logx.String("ticket", t.ID), logx.String("to", to), logx.String("category", cat.String()))
	if _, err := dispatch.Await(ctx, t, s.timeout); err != nil {
		return fmt.Errorf("messages: telegram to %s: %w", to, err)
	}
	s.log.Info("telegram sent", logx.String("to", to), logx.String("tgid", tg.TGID), logx.String("category", cat.String()))
	return nil
}

// Relay is the telegrams scheduler's executor. It forwards each call to the
// api scheduler and checks the reply.
//
// A relayed call that times out while still queued is withdrawn, so it is
// never sent behind the caller's back. Once the api scheduler has taken it,
// the relay waits for the real reply; the telegram cooldown then starts from
// the actual send.
type Relay struct {
	API     TicketQueue
	Timeout time.Duration
}

func (r Relay) Execute(ctx context.Context, t *dispatch.Ticket) ([]byte, error) {
	at := r.API.Enqueue(t.Target)
	payload, err := dispatch.Await(ctx, at, r.Timeout)
	if err != nil {
		if r.API.Cancel(at) {
			return nil, err
		}
		<-at.Done()
		payload, err = at.Result()
	}
	if err != nil {
		return nil, err
	}
	if !bytes.Contains(bytes.ToLower(payload), []byte("queued")) {
		return payload, fmt.Errorf("%w: %s", ErrNotQueued, strings.TrimSpace(string(payload)))
	}
	return payload, nil
}
