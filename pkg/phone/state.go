package phone

import (
	"context"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"
	"github.com/pion/webrtc/v4"
)

// CallState представляет состояние звонка. На телефон существует ровно
// одно активное значение.
type CallState int

const (
	StateIdle CallState = iota
	StateRegistering
	StateRegistered
	StateCalling
	StateRinging
	StateConnected
	StateEnded
	StateError
)

var stateNames = map[CallState]string{
	StateIdle:        "idle",
	StateRegistering: "registering",
	StateRegistered:  "registered",
	StateCalling:     "calling",
	StateRinging:     "ringing",
	StateConnected:   "connected",
	StateEnded:       "ended",
	StateError:       "error",
}

func (s CallState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

func stateFromString(name string) CallState {
	for s, n := range stateNames {
		if n == name {
			return s
		}
	}
	return StateError
}

// События автомата. Имена совпадают с событиями SIP плагина там, где
// переход ими и вызывается.
const (
	evRegistering        = "registering"
	evRegistered         = "registered"
	evRegistrationFailed = "registration_failed"
	evCalling            = "calling"
	evRinging            = "ringing"
	evAccepted           = "accepted"
	evEnded              = "ended"
	evReset              = "reset"
	evError              = "error"
)

// StatusHandler получает смену состояния с деталью (причина завершения,
// набранный номер и т.п.; может быть пустой).
type StatusHandler func(state CallState, detail string)

// RemoteTrackHandler получает первый удаленный аудиотрек звонка.
// Воспроизведение — забота подписчика, клиент лишь отдает сырой поток.
type RemoteTrackHandler func(track *webrtc.TrackRemote)

// StateEmitter — наблюдаемый автомат состояний звонка.
//
// Переходы сериализуются автоматом, поэтому каждый подписчик видит их в
// том порядке, в котором они произошли. Порядок доставки между разными
// подписчиками не специфицирован. Буферизации нет: подписчик, добавленный
// после перехода, этот переход не увидит.
type StateEmitter struct {
	machine *fsm.FSM
	log     *slog.Logger
	metrics *Metrics

	mu         sync.RWMutex
	statusSubs []StatusHandler
	trackSubs  []RemoteTrackHandler
}

func newStateEmitter(log *slog.Logger, metrics *Metrics) *StateEmitter {
	e := &StateEmitter{
		log:     log,
		metrics: metrics,
	}

	anyState := make([]string, 0, len(stateNames))
	for _, name := range stateNames {
		anyState = append(anyState, name)
	}

	e.machine = fsm.NewFSM(
		StateIdle.String(),
		fsm.Events{
			{Name: evRegistering, Src: []string{"idle", "registered"}, Dst: "registering"},
			{Name: evRegistered, Src: []string{"idle", "registering"}, Dst: "registered"},
			{Name: evRegistrationFailed, Src: []string{"registering"}, Dst: "idle"},
			{Name: evCalling, Src: []string{"registered"}, Dst: "calling"},
			{Name: evRinging, Src: []string{"calling"}, Dst: "ringing"},
			{Name: evAccepted, Src: []string{"calling", "ringing"}, Dst: "connected"},
			{Name: evEnded, Src: []string{"calling", "ringing", "connected"}, Dst: "ended"},
			{Name: evReset, Src: []string{"ended", "error"}, Dst: "registered"},
			{Name: evError, Src: anyState, Dst: "error"},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, ev *fsm.Event) {
				e.afterEvent(ev)
			},
		},
	)

	return e
}

// OnStateChange подписывает обработчик на смену состояний.
func (e *StateEmitter) OnStateChange(h StatusHandler) {
	e.mu.Lock()
	e.statusSubs = append(e.statusSubs, h)
	e.mu.Unlock()
}

// OnRemoteTrack подписывает обработчик на удаленный аудиопоток.
func (e *StateEmitter) OnRemoteTrack(h RemoteTrackHandler) {
	e.mu.Lock()
	e.trackSubs = append(e.trackSubs, h)
	e.mu.Unlock()
}

// Current возвращает текущее зафиксированное состояние.
func (e *StateEmitter) Current() CallState {
	return stateFromString(e.machine.Current())
}

// fire продвигает автомат. Недопустимый для текущего состояния переход
// (например, повтор события шлюзом) не ошибка — он просто игнорируется.
func (e *StateEmitter) fire(event, detail string) {
	if err := e.machine.Event(context.Background(), event, detail); err != nil {
		e.log.Debug("переход отклонен", "event", event, "state", e.machine.Current(), "error", err)
	}
}

func (e *StateEmitter) afterEvent(ev *fsm.Event) {
	state := stateFromString(ev.Dst)

	detail := ""
	if len(ev.Args) > 0 {
		if s, ok := ev.Args[0].(string); ok {
			detail = s
		}
	}

	if e.metrics != nil {
		e.metrics.stateTransitions.WithLabelValues(state.String()).Inc()
	}
	e.log.Debug("смена состояния", "from", ev.Src, "to", ev.Dst, "detail", detail)

	e.mu.RLock()
	subs := make([]StatusHandler, len(e.statusSubs))
	copy(subs, e.statusSubs)
	e.mu.RUnlock()

	for _, h := range subs {
		h(state, detail)
	}
}

// emitRemoteTrack доставляет подписчикам первый удаленный трек звонка.
func (e *StateEmitter) emitRemoteTrack(track *webrtc.TrackRemote) {
	e.mu.Lock()
	subs := make([]RemoteTrackHandler, len(e.trackSubs))
	copy(subs, e.trackSubs)
	e.mu.Unlock()

	for _, h := range subs {
		h(track)
	}
}
