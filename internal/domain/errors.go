package domain

import "errors"

var (
	ErrEmptyUsername      = errors.New("username is empty")
	ErrIdentifyTimeout    = errors.New("no username received before timeout")
	ErrMalformedFrame     = errors.New("malformed client frame")
	ErrHubStopped         = errors.New("broadcast hub stopped")
	ErrSubscriptionClosed = errors.New("subscription closed")
	ErrHistoryUnavailable = errors.New("chat history unavailable")
)
