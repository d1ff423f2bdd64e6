package larder

import (
	"errors"

	"goflare.io/larder/internal/models"
)

var (
	ErrClosed         = errors.New("larder is closed")
	ErrUnknownBackend = errors.New("unknown persistence backend")

	ErrEmptyKey    = models.ErrEmptyKey
	ErrKeyNotFound = models.ErrKeyNotFound
)
