package phone

import (
	"context"
	"log/slog"
	"time"

	"github.com/arzzra/janus_phone/pkg/janus"
)

// DefaultGatherTimeout — потолок ожидания сбора транспортных кандидатов.
// Осознанный компромисс между скоростью установления звонка и полнотой
// списка кандидатов.
const DefaultGatherTimeout = 3 * time.Second

// MediaConfig задает параметры медиа-сессии одного звонка.
type MediaConfig struct {
	// STUNServers — адреса STUN серверов ("stun:host:port")
	STUNServers []string

	// GatherTimeout ограничивает ожидание сбора кандидатов
	GatherTimeout time.Duration

	Logger *slog.Logger
}

// MediaSession — медиа-ресурсы одного звонка: локальный аудиопоток,
// peer connection и удаленный поток. Создается на время звонка и
// синхронно освобождается при его завершении.
type MediaSession interface {
	// Offer строит локальное описание для аудио-согласования, дождавшись
	// завершения сбора кандидатов (не дольше потолка; по потолку — с тем,
	// что успели собрать).
	Offer(ctx context.Context) (janus.Jsep, error)

	// ApplyAnswer применяет удаленное описание. Вызывается не более
	// одного раза за звонок — за это отвечает вызывающая сторона.
	ApplyAnswer(jsep janus.Jsep) error

	// OnRemoteTrack задает приемник первого удаленного трека.
	OnRemoteTrack(h RemoteTrackHandler)

	// Close синхронно освобождает треки и peer connection.
	// Повторный вызов безопасен.
	Close() error
}

// MediaFactory создает медиа-сессии. Продакшен-реализация — WebRTCFactory;
// в тестах подменяется моком, чтобы не требовать микрофона.
type MediaFactory interface {
	NewSession(ctx context.Context, cfg MediaConfig) (MediaSession, error)
}

// waitGathering ждет завершения сбора кандидатов, но не дольше limit.
// Достижение потолка не ошибка.
func waitGathering(ctx context.Context, done <-chan struct{}, limit time.Duration) error {
	timer := time.NewTimer(limit)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
