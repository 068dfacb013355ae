package binder

import "errors"

// Common binding errors
var (
	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingContentType   = errors.New("missing content type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrBodyTooLarge         = errors.New("request body too large")
	ErrInvalidPath          = errors.New("invalid path parameter")
	ErrInvalidHeader        = errors.New("invalid header value")
	ErrInvalidQuery         = errors.New("invalid query parameter")
	ErrEmptyBody            = errors.New("empty body")

	// ErrBinderNotApplicable tells Wrap to skip a binder for this request.
	ErrBinderNotApplicable = errors.New("binder not applicable")
)
