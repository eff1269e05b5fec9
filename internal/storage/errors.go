package storage

import "errors"

// ErrRunNotFound is returned when no run is stored under the requested ID
var ErrRunNotFound = errors.New("run not found")
