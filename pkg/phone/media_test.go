package phone

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestWaitGatheringCompletesEarly: если сбор кандидатов завершился
// раньше потолка, ожидание снимается сразу же.
func TestWaitGatheringCompletesEarly(t *testing.T) {
	done := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		close(done)
	}()

	start := time.Now()
	require.NoError(t, waitGathering(context.Background(), done, 3*time.Second))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

// TestWaitGatheringCap: если сбор не завершается, продолжаем по потолку
// с тем, что успели собрать — это не ошибка.
func TestWaitGatheringCap(t *testing.T) {
	done := make(chan struct{}) // никогда не закроется

	start := time.Now()
	require.NoError(t, waitGathering(context.Background(), done, 100*time.Millisecond))
	assert.InDelta(t, 100, time.Since(start).Milliseconds(), 80)
}

// TestWaitGatheringCancelled: отмена контекста прерывает ожидание.
func TestWaitGatheringCancelled(t *testing.T) {
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitGathering(ctx, done, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

// TestCandidateCount разбирает описание и считает кандидаты.
func TestCandidateCount(t *testing.T) {
	const raw = "v=0\r\n" +
		"o=- 4611731400430051336 2 IN IP4 127.0.0.1\r\n" +
		"s=-\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n" +
		"a=candidate:1 1 udp 2130706431 192.0.2.1 54321 typ host\r\n" +
		"a=candidate:2 1 udp 1694498815 203.0.113.5 54322 typ srflx\r\n"

	assert.Equal(t, 2, candidateCount(raw))
	assert.Equal(t, 0, candidateCount("мусор"))
}
