package janus

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newSessionGateway — шлюз, умеющий create/attach и считающий keepalive.
func newSessionGateway(t *testing.T, keepalives *atomic.Int64, frames chan<- map[string]any) string {
	t.Helper()

	return newTestGateway(t, func(c *gatewayConn, raw map[string]any) {
		if frames != nil {
			select {
			case frames <- raw:
			default:
			}
		}

		switch raw["janus"] {
		case "create":
			require.NoError(t, c.send(success(raw["transaction"].(string), 1001)))
		case "attach":
			assert.EqualValues(t, 1001, raw["session_id"])
			require.NoError(t, c.send(success(raw["transaction"].(string), 2002)))
		case "keepalive":
			if keepalives != nil {
				keepalives.Add(1)
			}
			// keepalive не требует ответа
		case "message", "trickle", "detach", "destroy":
			require.NoError(t, c.send(map[string]any{
				"janus":       "ack",
				"transaction": raw["transaction"],
			}))
		}
	})
}

// TestCreateAndAttach проверяет создание сессии и присоединение плагина:
// выданные шлюзом идентификаторы сохраняются и квалифицируют запросы.
func TestCreateAndAttach(t *testing.T) {
	url := newSessionGateway(t, nil, nil)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	s, err := Create(context.Background(), c)
	require.NoError(t, err)
	require.EqualValues(t, 1001, s.ID())
	require.Zero(t, s.Handle())

	handle, err := s.AttachPlugin(context.Background(), "janus.plugin.sip")
	require.NoError(t, err)
	require.EqualValues(t, 2002, handle)
	require.EqualValues(t, 2002, s.Handle())
}

// TestKeepaliveLoop: keepalive уходит по расписанию и прекращается сам
// после закрытия клиента.
func TestKeepaliveLoop(t *testing.T) {
	var keepalives atomic.Int64
	url := newSessionGateway(t, &keepalives, nil)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)

	s, err := Create(context.Background(), c)
	require.NoError(t, err)

	s.StartKeepalive(20 * time.Millisecond)

	require.Eventually(t, func() bool {
		return keepalives.Load() >= 3
	}, time.Second, 10*time.Millisecond, "keepalive не отправляется")

	require.NoError(t, c.Close())
	stopped := keepalives.Load()

	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, keepalives.Load(), stopped+1, "keepalive пережил закрытие клиента")
}

// TestMessageCarriesScope: message-конверт несет session_id, handle_id,
// body и jsep; trickle-completed — флаг completed.
func TestMessageCarriesScope(t *testing.T) {
	frames := make(chan map[string]any, 16)
	url := newSessionGateway(t, nil, frames)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	s, err := Create(context.Background(), c)
	require.NoError(t, err)
	_, err = s.AttachPlugin(context.Background(), "janus.plugin.sip")
	require.NoError(t, err)

	drain(frames) // create и attach уже видели

	_, err = s.Message(context.Background(),
		map[string]any{"request": "call"},
		&Jsep{Type: "offer", SDP: "v=0"},
	)
	require.NoError(t, err)

	msg := <-frames
	assert.Equal(t, "message", msg["janus"])
	assert.EqualValues(t, 1001, msg["session_id"])
	assert.EqualValues(t, 2002, msg["handle_id"])
	assert.Equal(t, "call", msg["body"].(map[string]any)["request"])
	assert.Equal(t, "offer", msg["jsep"].(map[string]any)["type"])

	require.NoError(t, s.TrickleCompleted())

	var trickle map[string]any
	select {
	case trickle = <-frames:
	case <-time.After(time.Second):
		t.Fatal("trickle не получен")
	}
	assert.Equal(t, "trickle", trickle["janus"])
	assert.Equal(t, true, trickle["candidate"].(map[string]any)["completed"])
}

// TestDetachAndDestroy: teardown-запросы уходят с нужной областью действия.
func TestDetachAndDestroy(t *testing.T) {
	frames := make(chan map[string]any, 16)
	url := newSessionGateway(t, nil, frames)

	c, err := Dial(context.Background(), url)
	require.NoError(t, err)
	defer c.Close()

	s, err := Create(context.Background(), c)
	require.NoError(t, err)
	_, err = s.AttachPlugin(context.Background(), "janus.plugin.sip")
	require.NoError(t, err)

	drain(frames)

	require.NoError(t, s.Detach(context.Background()))
	require.Zero(t, s.Handle())
	require.NoError(t, s.Destroy(context.Background()))

	detach := <-frames
	assert.Equal(t, "detach", detach["janus"])
	assert.EqualValues(t, 2002, detach["handle_id"])

	destroy := <-frames
	assert.Equal(t, "destroy", destroy["janus"])
	assert.EqualValues(t, 1001, destroy["session_id"])
}

func drain(ch chan map[string]any) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
