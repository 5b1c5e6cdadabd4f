package core

import "errors"

var (
	ErrUnauthenticated    = errors.New("not authenticated")
	ErrRemoteUnavailable  = errors.New("remote storage unavailable")
	ErrStorageUnavailable = errors.New("local storage unavailable")
	ErrQuotaExceeded      = errors.New("storage quota exceeded")
	ErrNotFound           = errors.New("save not found")
	ErrInvalidSlot        = errors.New("invalid slot name")
)
