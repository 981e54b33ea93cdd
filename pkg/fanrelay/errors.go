package fanrelay

import (
	"errors"

	"github.com/bft-labs/fanrelay/internal/domain"
)

var (
	// ErrAlreadyRunning is returned by Start when the relay is running.
	ErrAlreadyRunning = errors.New("fanrelay: already running")

	// ErrNotRunning is returned by Stop when the relay is not running.
	ErrNotRunning = errors.New("fanrelay: not running")

	// ErrNoPublisher is returned by Publish when a custom producer is in use.
	ErrNoPublisher = errors.New("fanrelay: publish requires the default producer")

	// ErrInvalidConfig wraps configuration errors.
	ErrInvalidConfig = domain.ErrInvalidConfig
)
