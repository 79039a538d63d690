package trackchanges

import "errors"

var (
	ErrContainerNotRegistered = errors.New("container is not registered")
	ErrInvalidToken           = errors.New("invalid delta token")
	ErrTokenExpired           = errors.New("delta token expired")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrSinkFull               = errors.New("event sink is full")
	ErrSinkClosed             = errors.New("event sink is closed")
)
