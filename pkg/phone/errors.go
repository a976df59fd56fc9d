package phone

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when the gateway session is not established
	ErrNotConnected = errors.New("phone: not connected to gateway")

	// ErrNotRegistered is returned when a call is placed before registration
	ErrNotRegistered = errors.New("phone: not registered")

	// ErrAlreadyInCall is returned when a call is already in progress
	ErrAlreadyInCall = errors.New("phone: call already in progress")

	// ErrRegistrationTimeout is returned when the registration outcome
	// does not arrive within the registration ceiling
	ErrRegistrationTimeout = errors.New("phone: registration timeout")

	// ErrMediaAccess is returned when local audio cannot be acquired
	ErrMediaAccess = errors.New("phone: media access denied")

	// ErrDestroyed is returned for operations on a destroyed phone
	ErrDestroyed = errors.New("phone: destroyed")
)

// RegistrationError — отказ в регистрации с причиной, которую сообщил
// шлюз (registration_failed). Сессия остается живой, регистрацию можно
// повторить.
type RegistrationError struct {
	Code   int
	Reason string
}

func (e *RegistrationError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("phone: registration failed (code %d)", e.Code)
	}
	return fmt.Sprintf("phone: registration failed (code %d): %s", e.Code, e.Reason)
}
