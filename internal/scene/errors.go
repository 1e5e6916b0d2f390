package scene

import (
	"errors"
	"fmt"
)

var (
	ErrBrokerUnauthorized  = errors.New("imagery broker: not authorized")
	ErrBrokerNotFound      = errors.New("imagery broker: scene not found")
	ErrBrokerUpstream      = errors.New("imagery broker: upstream error")
	ErrActivationTimeout   = errors.New("scene activation timed out")
	ErrActivationPending   = errors.New("scene activation still in progress")
	ErrUnsupportedPlatform = errors.New("unsupported imagery platform")
	ErrInvalidSceneID      = errors.New("invalid scene id")
)

// BrokerError carries the HTTP status behind a broker failure.
type BrokerError struct {
	Op         string
	SceneID    string
	StatusCode int
	Err        error
}

func (e *BrokerError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s %s: %v", e.Op, e.SceneID, e.Err)
	}
	return fmt.Sprintf("%s %s: %v (HTTP %d)", e.Op, e.SceneID, e.Err, e.StatusCode)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// IsPermanent reports whether retrying the broker call cannot help.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrBrokerUnauthorized) || errors.Is(err, ErrBrokerNotFound)
}
