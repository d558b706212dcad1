package binder

import "errors"

var (
	ErrUnsupportedMediaType = errors.New("binder: content type is not application/json")
	ErrFailedToParseJSON    = errors.New("binder: malformed JSON body")
	ErrMissingContentType   = errors.New("binder: Content-Type header is missing")
	ErrBodyTooLarge         = errors.New("binder: body exceeds size limit")

	// ErrBinderNotApplicable tells Wrap to skip a binder for this request.
	ErrBinderNotApplicable = errors.New("binder: not applicable")
)
