package metering

import "errors"

var (
	ErrMissingAccountID  = errors.New("metering: account id is required")
	ErrUsageNotRecorded  = errors.New("metering: usage not recorded")
	ErrBindingContention = errors.New("metering: device binding contention")
)
