package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/arzzra/janus_phone/pkg/janus"
)

// DefaultSTUNServers используются, когда в конфигурации не заданы свои.
var DefaultSTUNServers = []string{"stun:stun.l.google.com:19302"}

// WebRTCFactory создает медиа-сессии на pion/webrtc с захватом микрофона
// через pion/mediadevices (opus).
type WebRTCFactory struct{}

// NewSession захватывает локальное аудио и строит peer connection.
// Отказ в доступе к микрофону возвращается как ErrMediaAccess; peer
// connection при этом не создается.
func (WebRTCFactory) NewSession(_ context.Context, cfg MediaConfig) (MediaSession, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	gatherTimeout := cfg.GatherTimeout
	if gatherTimeout <= 0 {
		gatherTimeout = DefaultGatherTimeout
	}
	stun := cfg.STUNServers
	if len(stun) == 0 {
		stun = DefaultSTUNServers
	}

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, err
	}
	codecSelector := mediadevices.NewCodecSelector(
		mediadevices.WithAudioEncoders(&opusParams),
	)

	mediaEngine := &webrtc.MediaEngine{}
	codecSelector.Populate(mediaEngine)

	registry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
		return nil, err
	}

	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(registry),
	)

	// только аудио: видео в этом клиенте не используется
	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(*mediadevices.MediaTrackConstraints) {},
		Codec: codecSelector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMediaAccess, err)
	}

	iceServers := make([]webrtc.ICEServer, 0, len(stun))
	for _, u := range stun {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: []string{u}})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		for _, track := range stream.GetTracks() {
			_ = track.Close()
		}
		return nil, err
	}

	s := &webrtcSession{
		pc:            pc,
		stream:        stream,
		log:           log,
		gatherTimeout: gatherTimeout,
	}

	for _, track := range stream.GetTracks() {
		track.OnEnded(func(err error) {
			if err != nil && !errors.Is(err, io.EOF) {
				log.Debug("локальный трек завершился", "error", err)
			}
		})
		if _, err := pc.AddTrack(track); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.handleRemoteTrack(track)
	})

	return s, nil
}

type webrtcSession struct {
	pc            *webrtc.PeerConnection
	stream        mediadevices.MediaStream
	log           *slog.Logger
	gatherTimeout time.Duration

	mu       sync.Mutex
	onTrack  RemoteTrackHandler
	gotTrack bool

	closeOnce sync.Once
	closeErr  error
}

func (s *webrtcSession) Offer(ctx context.Context) (janus.Jsep, error) {
	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return janus.Jsep{}, err
	}

	// промис создается до SetLocalDescription, иначе завершение сбора
	// можно пропустить
	gatherDone := webrtc.GatheringCompletePromise(s.pc)

	if err := s.pc.SetLocalDescription(offer); err != nil {
		return janus.Jsep{}, err
	}

	if err := waitGathering(ctx, gatherDone, s.gatherTimeout); err != nil {
		return janus.Jsep{}, err
	}

	local := s.pc.LocalDescription()
	if local == nil {
		return janus.Jsep{}, errors.New("phone: no local description")
	}

	s.log.Debug("локальное описание готово", "candidates", candidateCount(local.SDP))

	return janus.Jsep{Type: local.Type.String(), SDP: local.SDP}, nil
}

func (s *webrtcSession) ApplyAnswer(jsep janus.Jsep) error {
	return s.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(jsep.Type),
		SDP:  jsep.SDP,
	})
}

func (s *webrtcSession) OnRemoteTrack(h RemoteTrackHandler) {
	s.mu.Lock()
	s.onTrack = h
	s.mu.Unlock()
}

func (s *webrtcSession) handleRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	if s.gotTrack {
		s.mu.Unlock()
		return
	}
	s.gotTrack = true
	h := s.onTrack
	s.mu.Unlock()

	s.log.Debug("получен удаленный трек", "codec", track.Codec().MimeType)
	if h != nil {
		h(track)
	}
}

func (s *webrtcSession) Close() error {
	s.closeOnce.Do(func() {
		for _, track := range s.stream.GetTracks() {
			_ = track.Close()
		}
		s.closeErr = s.pc.Close()
	})
	return s.closeErr
}

// candidateCount считает собранные кандидаты в описании (для логов).
func candidateCount(raw string) int {
	var desc sdp.SessionDescription
	if err := desc.UnmarshalString(raw); err != nil {
		return 0
	}

	n := 0
	for _, m := range desc.MediaDescriptions {
		for _, a := range m.Attributes {
			if a.Key == "candidate" {
				n++
			}
		}
	}
	return n
}
