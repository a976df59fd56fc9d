package janus

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatewayConn — соединение тестового шлюза с потокобезопасной записью.
type gatewayConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (g *gatewayConn) send(v any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.conn.WriteJSON(v)
}

// newTestGateway поднимает фейковый шлюз поверх httptest и возвращает
// ws:// адрес. Каждый входящий фрейм передается обработчику.
func newTestGateway(t *testing.T, onFrame func(c *gatewayConn, raw map[string]any)) string {
	t.Helper()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		gc := &gatewayConn{conn: conn}
		for {
			var raw map[string]any
			if err := conn.ReadJSON(&raw); err != nil {
				return
			}
			onFrame(gc, raw)
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func success(tx string, id uint64) map[string]any {
	return map[string]any{
		"janus":       "success",
		"transaction": tx,
		"data":        map[string]any{"id": id},
	}
}

// TestDoCorrelatesReplies проверяет, что при конкурентных запросах каждый
// ответ достается ровно той транзакции, чей токен он несет — даже если
// шлюз отвечает в обратном порядке.
func TestDoCorrelatesReplies(t *testing.T) {
	const n = 8

	var mu sync.Mutex
	type pendingReq struct {
		tx string
		id uint64
	}
	var queued []pendingReq

	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		body := raw["body"].(map[string]any)
		mu.Lock()
		queued = append(queued, pendingReq{
			tx: raw["transaction"].(string),
			id: uint64(body["n"].(float64)),
		})
		ready := len(queued) == n
		batch := queued
		mu.Unlock()

		if ready {
			// отвечаем в обратном порядке
			for i := len(batch) - 1; i >= 0; i-- {
				require.NoError(t, c.send(success(batch[i].tx, batch[i].id)))
			}
		}
	})

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reply, err := c.Do(context.Background(), &Request{
				Janus: "message",
				Body:  map[string]any{"n": i},
			})
			assert.NoError(t, err)
			if assert.NotNil(t, reply.Data) {
				assert.Equal(t, uint64(i), reply.Data.ID)
			}
		}(i)
	}
	wg.Wait()
}

// TestDoTimeout проверяет таймаут запроса: ожидающая запись удаляется до
// возврата ошибки, опоздавший ответ молча отбрасывается, а последующие
// события продолжают доставляться.
func TestDoTimeout(t *testing.T) {
	var mu sync.Mutex
	var staleTx string

	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		switch raw["janus"] {
		case "message":
			// не отвечаем, только запоминаем токен
			mu.Lock()
			staleTx = raw["transaction"].(string)
			mu.Unlock()
		case "keepalive":
			// по сигналу клиента высылаем опоздавший ответ и событие
			mu.Lock()
			tx := staleTx
			mu.Unlock()
			require.NoError(t, c.send(success(tx, 1)))
			require.NoError(t, c.send(map[string]any{"janus": "event", "sender": uint64(9)}))
		}
	})

	c, err := Dial(context.Background(), url, WithRequestTimeout(100*time.Millisecond))
	require.NoError(t, err)
	defer c.Close()

	events := make(chan *Frame, 4)
	c.OnEvent(func(f *Frame) { events <- f })

	start := time.Now()
	_, err = c.Do(context.Background(), &Request{Janus: "message"})
	require.ErrorIs(t, err, ErrTimeout)
	require.Less(t, time.Since(start), time.Second)

	// шлюз отвечает уже после таймаута и следом шлет событие
	require.NoError(t, c.Notify(&Request{Janus: "keepalive"}))

	select {
	case f := <-events:
		// опоздавший ответ отброшен, событие дошло
		require.Equal(t, "event", f.Janus)
		require.Equal(t, uint64(9), f.Sender)
	case <-time.After(time.Second):
		t.Fatal("событие после опоздавшего ответа не доставлено")
	}
}

// TestEventNeverResolvesTransaction: фрейм janus:"event" не считается
// ответом, даже если его токен совпадает с ожидающей транзакцией.
func TestEventNeverResolvesTransaction(t *testing.T) {
	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		tx := raw["transaction"].(string)
		// сначала событие с тем же токеном, потом настоящий ответ
		require.NoError(t, c.send(map[string]any{
			"janus":       "event",
			"transaction": tx,
			"sender":      uint64(42),
		}))
		require.NoError(t, c.send(success(tx, 7)))
	})

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	events := make(chan *Frame, 4)
	c.OnEvent(func(f *Frame) { events <- f })

	reply, err := c.Do(context.Background(), &Request{Janus: "message"})
	require.NoError(t, err)
	require.Equal(t, "success", reply.Janus)
	require.Equal(t, uint64(7), reply.Data.ID)

	select {
	case f := <-events:
		assert.Equal(t, "event", f.Janus)
		assert.Equal(t, uint64(42), f.Sender)
	case <-time.After(time.Second):
		t.Fatal("событие не дошло до подписчика")
	}
}

// TestCloseCancelsPending: закрытие клиента немедленно завершает все
// ожидающие транзакции ошибкой ErrCancelled, не дожидаясь их таймаутов.
func TestCloseCancelsPending(t *testing.T) {
	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {})

	c, err := Dial(context.Background(), url, WithRequestTimeout(30*time.Second))
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Do(context.Background(), &Request{Janus: "message"})
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("транзакция не была отменена при закрытии")
	}

	// повторное закрытие — no-op, новые запросы отклоняются сразу
	require.NoError(t, c.Close())
	_, err = c.Do(context.Background(), &Request{Janus: "message"})
	require.ErrorIs(t, err, ErrClosed)
}

// TestDoTimeoutRacesClose: одновременные срабатывание таймаута и Close
// не должны подвешивать Do — ожидающую запись мог удалить Close, который
// в канал транзакции ничего не пишет. Каждый запрос обязан завершиться
// ErrTimeout либо ErrCancelled.
func TestDoTimeoutRacesClose(t *testing.T) {
	const workers = 16

	for i := 0; i < 20; i++ {
		// шлюз молчит: все транзакции идут по пути таймаута
		url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {})

		c, err := Dial(context.Background(), url, WithRequestTimeout(time.Millisecond))
		require.NoError(t, err)

		errs := make(chan error, workers)
		var wg sync.WaitGroup
		for j := 0; j < workers; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := c.Do(context.Background(), &Request{Janus: "message"})
				errs <- err
			}()
		}

		time.Sleep(time.Millisecond)
		require.NoError(t, c.Close())

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
			t.Fatal("Do завис после Close")
		}

		close(errs)
		for err := range errs {
			require.Error(t, err)
			if err != ErrTimeout && err != ErrCancelled && err != ErrClosed {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
		}
	}
}

// TestEventOrdering: события доставляются подписчику строго в порядке
// отправки шлюзом, без переупорядочивания и слияния.
func TestEventOrdering(t *testing.T) {
	const n = 50

	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		for i := 1; i <= n; i++ {
			require.NoError(t, c.send(map[string]any{
				"janus":  "event",
				"sender": uint64(i),
			}))
		}
	})

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	var mu sync.Mutex
	var got []uint64
	done := make(chan struct{})
	c.OnEvent(func(f *Frame) {
		mu.Lock()
		got = append(got, f.Sender)
		if len(got) == n {
			close(done)
		}
		mu.Unlock()
	})

	// любой запрос провоцирует шлюз выслать пачку событий
	require.NoError(t, c.Notify(&Request{Janus: "keepalive"}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("события не получены целиком")
	}

	for i := 1; i <= n; i++ {
		require.Equal(t, uint64(i), got[i-1], "нарушен порядок доставки")
	}
}

// TestGatewayErrorReply: ответ janus:"error" превращается в GatewayError.
func TestGatewayErrorReply(t *testing.T) {
	url := newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		require.NoError(t, c.send(map[string]any{
			"janus":       "error",
			"transaction": raw["transaction"],
			"error":       map[string]any{"code": 458, "reason": "No such session"},
		}))
	})

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Do(context.Background(), &Request{Janus: "keepalive"})

	var gwErr *GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 458, gwErr.Code)
	assert.Equal(t, "No such session", gwErr.Reason)
}

// TestDialUnreachable: недостижимый адрес дает ConnectError.
func TestDialUnreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/janus")

	var connErr *ConnectError
	require.ErrorAs(t, err, &connErr)
}

func ExampleDial() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, "ws://janus.example.org:8188/janus")
	if err != nil {
		fmt.Println("шлюз недоступен")
		return
	}
	defer c.Close()
}
