package repository

import "errors"

// ErrNotFound is returned when a row lookup by id matches nothing.
var ErrNotFound = errors.New("not found")
