package phone

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arzzra/janus_phone/pkg/janus"
)

// Phone — клиент исходящих звонков через SIP плагин шлюза Janus.
//
// Жизненный цикл: New → Connect → Register → Call/Hangup (возможно
// многократно) → Destroy. Все блокирующие операции принимают контекст и
// не задерживают доставку входящих событий: события обрабатываются
// независимой читающей горутиной транспорта.
//
// Одновременно активен не более чем один звонок; учет ресурсов звонка
// (локальное аудио, peer connection) жестко привязан к полю call:
// call != nil тогда и только тогда, когда ресурсы захвачены.
type Phone struct {
	cfg     Config
	log     *slog.Logger
	metrics *Metrics
	emitter *StateEmitter
	media   MediaFactory

	mu        sync.Mutex
	client    *janus.Client
	sess      *janus.Session
	call      *activeCall
	dialing   bool
	destroyed bool

	regMu  sync.Mutex
	regErr *RegistrationError
}

// activeCall держит ресурсы текущего звонка.
type activeCall struct {
	media     MediaSession
	answered  bool // удаленное описание уже применено
	startedAt time.Time
}

// Тела запросов SIP плагина.
type registerBody struct {
	Request     string `json:"request"`
	Username    string `json:"username"`
	AuthUser    string `json:"authuser,omitempty"`
	Secret      string `json:"secret"`
	DisplayName string `json:"display_name,omitempty"`
	Proxy       string `json:"proxy"`
}

type callBody struct {
	Request         string `json:"request"`
	URI             string `json:"uri"`
	FromDisplayName string `json:"from_display_name,omitempty"`
}

type hangupBody struct {
	Request string `json:"request"`
}

// Полезная нагрузка события SIP плагина. Имя события лежит либо в
// result.event, либо прямо в event.
type sipEvent struct {
	Event  string     `json:"event"`
	Result *sipResult `json:"result"`
}

type sipResult struct {
	Event       string `json:"event"`
	Code        int    `json:"code"`
	Reason      string `json:"reason"`
	DisplayName string `json:"displayname"`
}

// New создает телефон по конфигурации. Соединение со шлюзом не
// устанавливается до вызова Connect.
func New(cfg Config) (*Phone, error) {
	if err := cfg.withDefaults(); err != nil {
		return nil, err
	}

	log := cfg.Logger.With("component", "phone")
	metrics := newMetrics(cfg.Registerer)

	return &Phone{
		cfg:     cfg,
		log:     log,
		metrics: metrics,
		emitter: newStateEmitter(log, metrics),
		media:   cfg.Media,
	}, nil
}

// OnStateChange подписывает обработчик на смену состояний звонка.
func (p *Phone) OnStateChange(h StatusHandler) {
	p.emitter.OnStateChange(h)
}

// OnRemoteTrack подписывает обработчик на удаленный аудиопоток.
func (p *Phone) OnRemoteTrack(h RemoteTrackHandler) {
	p.emitter.OnRemoteTrack(h)
}

// State возвращает текущее состояние звонка.
func (p *Phone) State() CallState {
	return p.emitter.Current()
}

// InCall сообщает, захвачены ли сейчас ресурсы звонка.
func (p *Phone) InCall() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.call != nil
}

// Connect устанавливает соединение со шлюзом: создает сессию,
// присоединяет SIP плагин, запускает keepalive и подписывается на
// события. Повторный Connect на живом телефоне — ошибка.
func (p *Phone) Connect(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	if p.client != nil {
		p.mu.Unlock()
		return errors.New("phone: already connected")
	}
	p.mu.Unlock()

	client, err := janus.Dial(ctx, p.cfg.GatewayURL,
		janus.WithLogger(p.cfg.Logger),
		janus.WithRequestTimeout(p.cfg.TransactionTimeout),
	)
	if err != nil {
		return err
	}

	sess, err := janus.Create(ctx, client)
	if err != nil {
		client.Close()
		return err
	}
	if _, err := sess.AttachPlugin(ctx, p.cfg.Plugin); err != nil {
		client.Close()
		return err
	}

	client.OnEvent(p.handleFrame)
	sess.StartKeepalive(p.cfg.KeepaliveInterval)

	p.mu.Lock()
	p.client = client
	p.sess = sess
	p.mu.Unlock()

	go p.watchTransport(client)

	p.log.Info("соединение со шлюзом установлено",
		"session_id", sess.ID(), "handle_id", sess.Handle())
	return nil
}

// watchTransport следит за жизнью транспорта. Обрыв соединения со
// шлюзом фатален для текущего звонка: ресурсы освобождаются немедленно,
// автомат уходит в Error без возврата в Registered — без транспорта
// телефон неработоспособен. Штатный Destroy тревоги не поднимает.
func (p *Phone) watchTransport(client *janus.Client) {
	<-client.Done()

	p.mu.Lock()
	destroyed := p.destroyed
	p.mu.Unlock()
	if destroyed {
		return
	}

	p.log.Warn("соединение со шлюзом потеряно")
	if c := p.takeCall(); c != nil {
		if err := c.media.Close(); err != nil {
			p.log.Debug("закрытие медиа", "error", err)
		}
		p.metrics.callsActive.Dec()
	}
	p.emitter.fire(evError, "transport closed")
}

// Register регистрирует SIP аккаунт на прокси.
//
// Прямой ответ шлюза лишь подтверждает прием запроса: фактический исход
// приходит асинхронным событием. Register опрашивает зафиксированное
// состояние автомата с шагом RegisterPollInterval до потолка
// RegistrationTimeout: так одновременные события звонка в общем потоке
// не могут обогнать чтение результата.
func (p *Phone) Register(ctx context.Context) error {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}

	p.setRegError(nil)
	p.emitter.fire(evRegistering, "")

	body := registerBody{
		Request:     "register",
		Username:    sipUserURI(p.cfg.Username, p.cfg.Domain),
		AuthUser:    p.cfg.AuthUser,
		Secret:      p.cfg.Secret,
		DisplayName: p.cfg.DisplayName,
		Proxy:       p.cfg.Proxy,
	}
	if _, err := sess.Message(ctx, body, nil); err != nil {
		return err
	}

	deadline := time.NewTimer(p.cfg.RegistrationTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(p.cfg.RegisterPollInterval)
	defer ticker.Stop()

	for {
		switch p.emitter.Current() {
		case StateRegistered:
			return nil
		case StateIdle, StateError:
			if err := p.registrationError(); err != nil {
				return err
			}
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return ErrRegistrationTimeout
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CallOption настраивает отдельный звонок.
type CallOption func(*callOptions)

type callOptions struct {
	callerID string
}

// WithCallerID подменяет отображаемое имя звонящего для этого звонка.
func WithCallerID(display string) CallOption {
	return func(o *callOptions) {
		o.callerID = display
	}
}

// Call размещает исходящий звонок на number.
//
// Последовательность: проверка предусловий, захват локального аудио,
// построение описания со сбором кандидатов (ограничен потолком), отправка
// call-запроса с готовым описанием и немедленное уведомление
// trickle-completed. Возврат без ошибки означает, что запрос принят
// шлюзом; дальнейший прогресс приходит событиями (ringing, accepted,
// hangup) через OnStateChange.
func (p *Phone) Call(ctx context.Context, number string, opts ...CallOption) error {
	var o callOptions
	for _, opt := range opts {
		opt(&o)
	}

	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return ErrDestroyed
	}
	sess := p.sess
	if sess == nil {
		p.mu.Unlock()
		return ErrNotConnected
	}
	if p.call != nil || p.dialing {
		p.mu.Unlock()
		return ErrAlreadyInCall
	}
	if p.emitter.Current() != StateRegistered {
		p.mu.Unlock()
		return ErrNotRegistered
	}
	p.dialing = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.dialing = false
		p.mu.Unlock()
	}()

	started := time.Now()
	p.emitter.fire(evCalling, number)

	media, err := p.media.NewSession(ctx, MediaConfig{
		STUNServers:   p.cfg.STUNServers,
		GatherTimeout: p.cfg.GatherTimeout,
		Logger:        p.cfg.Logger,
	})
	if err != nil {
		// к шлюзу ничего не ушло: страдает только CallState
		p.failCallAttempt("media access denied")
		return err
	}
	media.OnRemoteTrack(p.emitter.emitRemoteTrack)

	jsep, err := media.Offer(ctx)
	if err != nil {
		_ = media.Close()
		p.failCallAttempt(err.Error())
		return err
	}

	body := callBody{
		Request: "call",
		URI:     NormalizeNumber(number, p.cfg.Domain),
	}
	if o.callerID != "" {
		body.FromDisplayName = o.callerID
	}

	// датчик растет строго под тем же захватом, что устанавливает call:
	// releaseCall уменьшает его только после успешного takeCall
	p.mu.Lock()
	p.call = &activeCall{media: media, startedAt: started}
	p.metrics.callsActive.Inc()
	p.mu.Unlock()

	if _, err := sess.Message(ctx, body, &jsep); err != nil {
		if c := p.takeCall(); c != nil {
			p.releaseCall(c, evError, err.Error())
		} else {
			p.failCallAttempt(err.Error())
		}
		return err
	}

	// кандидаты уже внутри описания: шлюзу не нужно ждать trickle
	if err := sess.TrickleCompleted(); err != nil {
		p.log.Debug("trickle-completed не отправлен", "error", err)
	}

	p.metrics.callsTotal.Inc()
	p.metrics.callSetupSeconds.Observe(time.Since(started).Seconds())

	p.log.Info("звонок размещен", "uri", body.URI)
	return nil
}

// Hangup завершает текущий звонок. Запрос шлюзу отправляется
// best-effort: недоставка не мешает локальной очистке ресурсов.
// Без активного звонка — no-op.
func (p *Phone) Hangup() {
	c := p.takeCall()
	if c == nil {
		return
	}

	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess != nil {
		if err := sess.MessageAsync(hangupBody{Request: "hangup"}); err != nil {
			p.log.Debug("hangup не отправлен", "error", err)
		}
	}

	p.releaseCall(c, evEnded, "hangup")
}

// Destroy завершает звонок, уничтожает сессию шлюза (best-effort) и
// закрывает транспорт, что останавливает keepalive и отменяет все
// ожидающие транзакции. Идемпотентен.
func (p *Phone) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	client, sess := p.client, p.sess
	p.mu.Unlock()

	p.Hangup()

	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := sess.Destroy(ctx); err != nil {
			p.log.Debug("сессия не уничтожена", "error", err)
		}
		cancel()
	}
	if client != nil {
		client.Close()
	}
}

// handleFrame обрабатывает асинхронные фреймы шлюза. Вызывается
// синхронно из читающей горутины транспорта, поэтому освобождение
// ресурсов по терминальному событию гарантированно завершается до
// обработки следующего события.
func (p *Phone) handleFrame(f *janus.Frame) {
	p.mu.Lock()
	sess := p.sess
	p.mu.Unlock()
	if sess == nil {
		return
	}
	// события чужого handle нас не касаются
	if f.Sender != 0 && sess.Handle() != 0 && f.Sender != sess.Handle() {
		return
	}
	if f.Janus != "event" || f.PluginData == nil {
		return
	}

	var ev sipEvent
	if err := json.Unmarshal(f.PluginData.Data, &ev); err != nil {
		p.log.Warn("не удалось разобрать событие плагина", "error", err)
		return
	}

	name := ev.Event
	code := 0
	reason := ""
	if ev.Result != nil {
		if ev.Result.Event != "" {
			name = ev.Result.Event
		}
		code = ev.Result.Code
		reason = ev.Result.Reason
	}

	switch name {
	case "registering":
		p.emitter.fire(evRegistering, "")
	case "registered":
		p.emitter.fire(evRegistered, "")
	case "registration_failed":
		p.setRegError(&RegistrationError{Code: code, Reason: reason})
		p.metrics.registrationFailures.Inc()
		p.emitter.fire(evRegistrationFailed, reason)
	case "calling":
		p.emitter.fire(evCalling, "")
	case "ringing":
		p.emitter.fire(evRinging, "")
	case "accepted":
		p.applyAnswer(f.Jsep)
		p.emitter.fire(evAccepted, reason)
	case "hangup", "declining", "missed":
		p.finishCall(name, reason)
	default:
		p.log.Debug("событие без обработчика", "event", name)
	}
}

// applyAnswer применяет удаленное описание к peer connection — не более
// одного раза за звонок, даже если шлюз повторил accepted.
func (p *Phone) applyAnswer(jsep *janus.Jsep) {
	if jsep == nil {
		return
	}

	p.mu.Lock()
	var media MediaSession
	if c := p.call; c != nil && !c.answered {
		c.answered = true
		media = c.media
	}
	p.mu.Unlock()
	if media == nil {
		return
	}

	if err := media.ApplyAnswer(*jsep); err != nil {
		p.log.Error("удаленное описание не применено", "error", err)
		if c := p.takeCall(); c != nil {
			p.releaseCall(c, evError, err.Error())
		}
	}
}

// finishCall обрабатывает терминальное событие звонка от шлюза.
func (p *Phone) finishCall(event, reason string) {
	c := p.takeCall()
	if c == nil {
		return
	}
	if reason == "" {
		reason = event
	}
	p.releaseCall(c, evEnded, reason)
}

// takeCall атомарно изымает активный звонок.
func (p *Phone) takeCall() *activeCall {
	p.mu.Lock()
	c := p.call
	p.call = nil
	p.mu.Unlock()
	return c
}

// releaseCall синхронно освобождает ресурсы звонка и проводит автомат
// через терминальное состояние обратно в Registered. Очистка одинакова
// для успешного и ошибочного пути — утечка peer connection или открытого
// трека невозможна.
func (p *Phone) releaseCall(c *activeCall, event, detail string) {
	if err := c.media.Close(); err != nil {
		p.log.Debug("закрытие медиа", "error", err)
	}
	p.metrics.callsActive.Dec()
	p.emitter.fire(event, detail)
	p.emitter.fire(evReset, "")
}

// failCallAttempt фиксирует сбой попытки звонка, не имевшей ресурсов
// либо уже их отдавшей: Error, затем возврат в Registered.
func (p *Phone) failCallAttempt(detail string) {
	p.emitter.fire(evError, detail)
	p.emitter.fire(evReset, "")
}

func (p *Phone) setRegError(e *RegistrationError) {
	p.regMu.Lock()
	p.regErr = e
	p.regMu.Unlock()
}

func (p *Phone) registrationError() error {
	p.regMu.Lock()
	defer p.regMu.Unlock()
	if p.regErr != nil {
		return p.regErr
	}
	return nil
}
