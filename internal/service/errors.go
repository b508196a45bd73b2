package service

import (
	"errors"

	"github.com/m3ugate/m3ugate/internal/store"
)

var (
	ErrNotFound     = store.ErrNotFound
	ErrConflict     = store.ErrConflict
	ErrInvalidInput = errors.New("invalid input")
)
