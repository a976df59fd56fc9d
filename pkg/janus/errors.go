package janus

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no correlated reply arrives in time
	ErrTimeout = errors.New("janus: transaction timeout")

	// ErrCancelled is returned to in-flight transactions when the client closes
	ErrCancelled = errors.New("janus: transaction cancelled")

	// ErrClosed is returned when sending over an already closed client
	ErrClosed = errors.New("janus: client closed")
)

// ConnectError — ошибка установления соединения со шлюзом.
// Фатальна для данного клиента: повторное подключение требует нового Dial.
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("janus: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// GatewayError — ошибка, которую шлюз вернул прямым ответом janus:"error".
type GatewayError struct {
	Code   int
	Reason string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("janus: gateway error %d: %s", e.Code, e.Reason)
}
