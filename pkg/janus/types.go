package janus

import "encoding/json"

// Request представляет исходящий фрейм к шлюзу.
// Поле Transaction заполняется клиентом автоматически, если пустое.
type Request struct {
	Janus       string     `json:"janus"`
	Transaction string     `json:"transaction,omitempty"`
	SessionID   uint64     `json:"session_id,omitempty"`
	HandleID    uint64     `json:"handle_id,omitempty"`
	Plugin      string     `json:"plugin,omitempty"`
	Body        any        `json:"body,omitempty"`
	Jsep        *Jsep      `json:"jsep,omitempty"`
	Candidate   *Candidate `json:"candidate,omitempty"`
}

// Frame представляет входящий фрейм от шлюза: прямой ответ на запрос
// либо асинхронное событие.
type Frame struct {
	Janus       string      `json:"janus"`
	Transaction string      `json:"transaction,omitempty"`
	SessionID   uint64      `json:"session_id,omitempty"`
	Sender      uint64      `json:"sender,omitempty"`
	Data        *FrameData  `json:"data,omitempty"`
	PluginData  *PluginData `json:"plugindata,omitempty"`
	Jsep        *Jsep       `json:"jsep,omitempty"`
	Error       *FrameError `json:"error,omitempty"`
}

// FrameData несет идентификатор, выданный шлюзом на create/attach.
type FrameData struct {
	ID uint64 `json:"id"`
}

// PluginData несет полезную нагрузку события плагина.
// Data оставляем сырым JSON: его структура зависит от плагина,
// разбор — забота верхнего слоя.
type PluginData struct {
	Plugin string          `json:"plugin"`
	Data   json.RawMessage `json:"data"`
}

// FrameError — ошибка уровня шлюза внутри фрейма janus:"error".
type FrameError struct {
	Code   int    `json:"code"`
	Reason string `json:"reason"`
}

// Jsep — описание медиа-сессии (SDP offer/answer) в том виде,
// в котором его передает шлюз.
type Jsep struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// Candidate — транспортный кандидат для trickle-сообщений.
// Клиент работает в режиме "собрал и отправил", поэтому единственное
// используемое trickle-сообщение — уведомление о завершении сбора.
type Candidate struct {
	Candidate string `json:"candidate,omitempty"`
	Completed bool   `json:"completed,omitempty"`
}
