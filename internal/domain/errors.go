package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrPositionAlreadyOpen = errors.New("position already open")
	ErrOrderNotFound       = errors.New("order not found")
	ErrOutOfOrderSample    = errors.New("sample out of order")
)
