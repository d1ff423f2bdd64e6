package manager

import "errors"

type resultKind int

const (
	resultOK resultKind = iota
	resultMiss
	resultFailed
)

var (
	errExpired         = errors.New("entry expired")
	errVersionMismatch = errors.New("entry written under another schema version")
)

// result keeps the reason behind a miss or failure even though the public
// API collapses both to "absent".
type result[V any] struct {
	kind  resultKind
	value V
	err   error
}

func okResult[V any](v V) result[V] {
	return result[V]{kind: resultOK, value: v}
}

func missResult[V any](reason error) result[V] {
	return result[V]{kind: resultMiss, err: reason}
}

func failedResult[V any](err error) result[V] {
	return result[V]{kind: resultFailed, err: err}
}
