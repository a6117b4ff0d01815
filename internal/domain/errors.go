package domain

import "errors"

var (
	ErrValidation   = errors.New("validation error")
	ErrInvalidTopic = errors.New("invalid topic")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)
