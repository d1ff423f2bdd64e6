package models

import "errors"

// 定義常見錯誤
var (
	ErrEmptyKey        = errors.New("key cannot be empty")
	ErrKeyNotFound     = errors.New("key not found in cache")
	ErrSetFailed       = errors.New("failed to set cache entry")
	ErrNotCompressible = errors.New("only string payloads can be compressed")
)
