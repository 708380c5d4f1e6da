package realtime

import "errors"

var (
	ErrBrokerStopped  = errors.New("broker stopped")
	ErrTooManyClients = errors.New("too many realtime clients")
)
