package mongo

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/v2/mongo"
)

var (
	ErrEmptyConnectionURL = errors.New("mongo: MONGODB_URL is not set")
	ErrConnect            = errors.New("mongo: server unreachable")
	ErrUnhealthy          = errors.New("mongo: ping failed")
)

// IsRetryable reports network errors, timeouts and errors the server labels
// as retryable or transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	var labeled mongo.LabeledError
	if errors.As(err, &labeled) {
		return labeled.HasErrorLabel("RetryableWriteError") || labeled.HasErrorLabel("TransientTransactionError")
	}
	return false
}
