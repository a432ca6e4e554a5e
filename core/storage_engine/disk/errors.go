package disk

import "errors"

var (
	ErrIO             = errors.New("i/o error")
	ErrFileClosed     = errors.New("database file is closed")
	ErrInvalidPageID  = errors.New("invalid logical page id")
	ErrInvalidBufSize = errors.New("page buffer size does not match page size")
)
