package config

import "errors"

var (
	ErrParsingConfig = errors.New("config: cannot parse environment")
	ErrNilPointer    = errors.New("config: Load needs a non-nil pointer")
)
