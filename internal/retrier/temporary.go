package retrier

import "errors"

// Temporary is implemented by errors that may clear up on their own.
type Temporary interface {
	Temporary() bool
}

// Timeout is implemented by net.Error and friends.
type Timeout interface {
	Timeout() bool
}

// IsTemporary reports whether anything in err's chain says a retry may
// succeed, either as a temporary failure or as a timeout.
func IsTemporary(err error) bool {
	var timeout Timeout
	if errors.As(err, &timeout) && timeout.Timeout() {
		return true
	}
	var temp Temporary
	return errors.As(err, &temp) && temp.Temporary()
}
