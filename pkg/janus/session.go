package janus

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultKeepaliveInterval — интервал keepalive по умолчанию.
// Janus закрывает сессию после 60 секунд тишины, 25 секунд дают
// двукратный запас.
const DefaultKeepaliveInterval = 25 * time.Second

// Session представляет сессию шлюза и привязанный к ней plugin handle.
// Оба идентификатора выдает шлюз; ими квалифицируются все последующие
// запросы. На один Client создается одна сессия.
type Session struct {
	client   *Client
	log      *slog.Logger
	id       uint64
	handleID uint64
}

// Create создает сессию на шлюзе.
func Create(ctx context.Context, c *Client) (*Session, error) {
	reply, err := c.Do(ctx, &Request{Janus: "create"})
	if err != nil {
		return nil, err
	}
	if reply.Data == nil || reply.Data.ID == 0 {
		return nil, errors.New("janus: create: шлюз не вернул идентификатор сессии")
	}

	return &Session{
		client: c,
		log:    c.log.With("session_id", reply.Data.ID),
		id:     reply.Data.ID,
	}, nil
}

// ID возвращает идентификатор сессии.
func (s *Session) ID() uint64 { return s.id }

// Handle возвращает идентификатор plugin handle (0 до AttachPlugin).
func (s *Session) Handle() uint64 { return s.handleID }

// Client возвращает транспорт, на котором живет сессия.
func (s *Session) Client() *Client { return s.client }

// AttachPlugin присоединяет плагин к сессии и сохраняет выданный handle.
func (s *Session) AttachPlugin(ctx context.Context, plugin string) (uint64, error) {
	reply, err := s.client.Do(ctx, &Request{
		Janus:     "attach",
		SessionID: s.id,
		Plugin:    plugin,
	})
	if err != nil {
		return 0, err
	}
	if reply.Data == nil || reply.Data.ID == 0 {
		return 0, errors.New("janus: attach: шлюз не вернул идентификатор handle")
	}

	s.handleID = reply.Data.ID
	return s.handleID, nil
}

// StartKeepalive запускает периодическую отправку keepalive.
// Сигнал шлет fire-and-forget: пропуск одного раунда не ошибка, за
// истечение простаивающих сессий отвечает шлюз. Горутина останавливается
// сама при закрытии клиента.
func (s *Session) StartKeepalive(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultKeepaliveInterval
	}
	go s.keepaliveLoop(interval)
}

func (s *Session) keepaliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.client.Done():
			return
		case <-ticker.C:
			err := s.client.Notify(&Request{Janus: "keepalive", SessionID: s.id})
			if err != nil {
				s.log.Debug("keepalive не отправлен", "error", err)
			}
		}
	}
}

// Message отправляет сообщение плагину и ждет прямой ответ шлюза.
// Прямой ответ лишь подтверждает прием: фактический результат приходит
// позже асинхронным событием.
func (s *Session) Message(ctx context.Context, body any, jsep *Jsep) (*Frame, error) {
	return s.client.Do(ctx, &Request{
		Janus:     "message",
		SessionID: s.id,
		HandleID:  s.handleID,
		Body:      body,
		Jsep:      jsep,
	})
}

// MessageAsync отправляет сообщение плагину, не ожидая ответа.
// Используется для best-effort запросов при теардауне, которым нельзя
// позволить зависнуть на мертвом транспорте.
func (s *Session) MessageAsync(body any) error {
	return s.client.Notify(&Request{
		Janus:     "message",
		SessionID: s.id,
		HandleID:  s.handleID,
		Body:      body,
	})
}

// TrickleCompleted уведомляет шлюз, что кандидатов больше не будет.
func (s *Session) TrickleCompleted() error {
	return s.client.Notify(&Request{
		Janus:     "trickle",
		SessionID: s.id,
		HandleID:  s.handleID,
		Candidate: &Candidate{Completed: true},
	})
}

// Detach отсоединяет plugin handle от сессии.
func (s *Session) Detach(ctx context.Context) error {
	if s.handleID == 0 {
		return nil
	}
	_, err := s.client.Do(ctx, &Request{
		Janus:     "detach",
		SessionID: s.id,
		HandleID:  s.handleID,
	})
	if err == nil {
		s.handleID = 0
	}
	return err
}

// Destroy уничтожает сессию на шлюзе.
func (s *Session) Destroy(ctx context.Context) error {
	_, err := s.client.Do(ctx, &Request{Janus: "destroy", SessionID: s.id})
	return err
}
