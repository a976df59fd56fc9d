package janus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// DefaultRequestTimeout — время ожидания коррелированного ответа.
	DefaultRequestTimeout = 10 * time.Second

	// защищает Dial от вечного зависания на рукопожатии
	defaultHandshakeTimeout = 10 * time.Second
)

// EventHandler получает асинхронные фреймы шлюза.
// Обработчики вызываются синхронно из читающей горутины, строго в порядке
// прихода фреймов. Долгие операции внутри обработчика задержат доставку
// следующих событий — это осознанная плата за гарантию порядка.
type EventHandler func(*Frame)

// Client владеет одним постоянным WebSocket соединением со шлюзом.
//
// Гарантии:
//   - каждый ответ доставляется ровно той транзакции, чей токен он несет;
//   - ожидающая запись транзакции удаляется ровно один раз — ответом,
//     таймаутом или закрытием клиента;
//   - события доставляются подписчикам в порядке отправки шлюзом.
//
// Повторное подключение закрытого клиента невозможно: нужен новый Dial.
type Client struct {
	conn    *websocket.Conn
	log     *slog.Logger
	timeout time.Duration

	// сериализует записи в соединение
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *Frame
	closed    bool

	handlersMu sync.RWMutex
	handlers   []EventHandler

	closeOnce sync.Once
	done      chan struct{}
}

// ClientOption настраивает клиента при создании.
type ClientOption func(*Client)

// WithLogger задает логгер клиента. По умолчанию slog.Default().
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithRequestTimeout задает время ожидания коррелированного ответа.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Dial устанавливает соединение со шлюзом и запускает чтение входящих
// фреймов. Janus требует субпротокол "janus-protocol".
func Dial(ctx context.Context, rawURL string, opts ...ClientOption) (*Client, error) {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"janus-protocol"},
		HandshakeTimeout: defaultHandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, &ConnectError{URL: rawURL, Err: err}
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	c := &Client{
		conn:    conn,
		log:     slog.Default(),
		timeout: DefaultRequestTimeout,
		pending: make(map[string]chan *Frame),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("component", "janus")

	go c.readLoop()

	return c, nil
}

// Done закрывается при завершении работы клиента.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// OnEvent регистрирует обработчик асинхронных событий. Подписчиков может
// быть несколько; каждый видит события в порядке их прихода. Буферизации
// нет: подписчик, добавленный позже, прошлых событий не увидит.
func (c *Client) OnEvent(h EventHandler) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, h)
	c.handlersMu.Unlock()
}

// Do отправляет запрос и ждет коррелированный ответ.
//
// Если токен транзакции не задан, присваивается свежий. По таймауту
// ожидающая запись сначала удаляется и только потом возвращается ошибка,
// поэтому опоздавший ответ не может разрешить транзакцию второй раз.
// Ответ janus:"error" преобразуется в *GatewayError.
func (c *Client) Do(ctx context.Context, req *Request) (*Frame, error) {
	if req.Transaction == "" {
		req.Transaction = uuid.NewString()
	}

	ch := make(chan *Frame, 1)

	c.pendingMu.Lock()
	if c.closed {
		c.pendingMu.Unlock()
		return nil, ErrClosed
	}
	c.pending[req.Transaction] = ch
	c.pendingMu.Unlock()

	if err := c.write(req); err != nil {
		c.removePending(req.Transaction)
		return nil, err
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case f := <-ch:
		return replyOrError(f)
	case <-timer.C:
		if c.removePending(req.Transaction) {
			return nil, ErrTimeout
		}
		return c.lostRace(ch)
	case <-ctx.Done():
		if c.removePending(req.Transaction) {
			return nil, ctx.Err()
		}
		return c.lostRace(ch)
	case <-c.done:
		return nil, ErrCancelled
	}
}

// Notify отправляет фрейм, не ожидая ответа (keepalive, trickle,
// best-effort запросы при теардауне).
func (c *Client) Notify(req *Request) error {
	if req.Transaction == "" {
		req.Transaction = uuid.NewString()
	}
	return c.write(req)
}

// Close завершает работу клиента. Все ожидающие транзакции немедленно
// получают ErrCancelled. Повторный вызов — no-op.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.pendingMu.Lock()
		c.closed = true
		for tx := range c.pending {
			delete(c.pending, tx)
		}
		c.pendingMu.Unlock()

		// ожидающие Do разблокируются через done
		close(c.done)
		if err := c.conn.Close(); err != nil {
			c.log.Debug("закрытие соединения", "error", err)
		}
	})
	return nil
}

func (c *Client) write(req *Request) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(req)
}

// lostRace дочитывает исход транзакции, чью запись успел удалить кто-то
// другой. Запись удаляют два пути: ответ (он кладет фрейм в канал) и
// Close (он в канал не пишет) — поэтому ждать только канал нельзя.
func (c *Client) lostRace(ch <-chan *Frame) (*Frame, error) {
	select {
	case f := <-ch:
		return replyOrError(f)
	case <-c.done:
		return nil, ErrCancelled
	}
}

// removePending удаляет ожидающую запись; false означает, что запись уже
// была удалена (ответом или закрытием).
func (c *Client) removePending(tx string) bool {
	c.pendingMu.Lock()
	_, ok := c.pending[tx]
	if ok {
		delete(c.pending, tx)
	}
	c.pendingMu.Unlock()
	return ok
}

func (c *Client) readLoop() {
	defer c.Close()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.log.Debug("соединение со шлюзом разорвано", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.log.Warn("не удалось разобрать фрейм", "error", err)
			continue
		}
		c.route(&f)
	}
}

// route отдает фрейм либо ожидающей транзакции, либо подписчикам событий.
// Событийные фреймы (janus:"event") никогда не считаются ответами, даже
// если их токен совпадает с ожидающей транзакцией.
func (c *Client) route(f *Frame) {
	if f.Janus != "event" && f.Transaction != "" {
		c.pendingMu.Lock()
		ch, ok := c.pending[f.Transaction]
		if ok {
			delete(c.pending, f.Transaction)
		}
		c.pendingMu.Unlock()

		if ok {
			ch <- f
			return
		}

		// опоздавший ответ либо подтверждение fire-and-forget запроса:
		// событием не является, отбрасываем
		if f.Janus != "ack" {
			c.log.Debug("ответ без ожидающей транзакции", "janus", f.Janus, "transaction", f.Transaction)
		}
		return
	}

	if f.Janus == "ack" {
		return
	}

	c.handlersMu.RLock()
	handlers := make([]EventHandler, len(c.handlers))
	copy(handlers, c.handlers)
	c.handlersMu.RUnlock()

	for _, h := range handlers {
		h(f)
	}
}

func replyOrError(f *Frame) (*Frame, error) {
	if f.Janus == "error" && f.Error != nil {
		return nil, &GatewayError{Code: f.Error.Code, Reason: f.Error.Reason}
	}
	return f, nil
}
