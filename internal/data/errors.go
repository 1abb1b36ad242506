package data

import "errors"

// Shared sentinel errors for brokers and result backends.
var (
	ErrTaskIDRequired    = errors.New("task_id is required")
	ErrInvalidTaskStatus = errors.New("invalid task status")
	ErrBrokerClosed      = errors.New("broker closed")
	ErrUnknownDelivery   = errors.New("unknown delivery handle")
)
