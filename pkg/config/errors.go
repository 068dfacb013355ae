package config

import "errors"

var (
	// ErrParsingConfig is returned when values cannot be parsed into the config struct.
	ErrParsingConfig = errors.New("failed to parse environment variables into config")

	// ErrNilPointer is returned when a nil pointer is provided to a loader.
	ErrNilPointer = errors.New("nil pointer provided to config loader")

	ErrProviderFailed = errors.New("configuration provider failed")
)
