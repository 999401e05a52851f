package hook

import "errors"

var (
	ErrApplicationNotFound  = errors.New("application not found")
	ErrEventTypeNotFound    = errors.New("event type not found")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrEventNotFound        = errors.New("event not found")
	ErrEventAlreadyExists   = errors.New("event already exists")
	ErrAttemptNotFound      = errors.New("request attempt not found")
	ErrResponseNotFound     = errors.New("response not found")

	ErrInvalidEventType  = errors.New("event type name must match service.resource.verb")
	ErrTooManyLabels     = errors.New("event labels exceed the maximum of 50 entries")
	ErrPayloadTooLarge   = errors.New("event payload exceeds the maximum size")
	ErrAmbiguousSelector = errors.New("subscription must set exactly one of label_key/label_value or labels")
)
