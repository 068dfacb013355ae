package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tiersync/pkg/binder"
	"github.com/dmitrymomot/tiersync/pkg/logger"
	"github.com/dmitrymomot/tiersync/pkg/requestid"
)

// ErrorMapper classifies domain errors. It returns false for errors it does
// not recognise so the next mapper is consulted.
type ErrorMapper func(err error) (HTTPError, bool)

// NewErrorHandler creates the JSON error handler shared by every route.
// Errors are classified as ValidationError, then by the mappers in order, then
// as binder failures or HTTPError, and fall back to 500. Client errors are logged at warn
// level and server errors at error level.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler[Context] {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With(logger.Component("error_handler"))

	return func(ctx Context, err error) {
		classified := classifyError(err, mappers)

		status := http.StatusInternalServerError
		detail := errorToDetail(classified, &status)

		level := slog.LevelError
		if status < http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		r := ctx.Request()
		log.LogAttrs(r.Context(), level, "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", status),
			slog.String("code", detail.Code),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		if renderErr := JSONError(detail, WithJSONStatus(status)).Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}

func classifyError(err error, mappers []ErrorMapper) error {
	var valErr ValidationError
	if errors.As(err, &valErr) {
		return valErr
	}
	for _, m := range mappers {
		if httpErr, ok := m(err); ok {
			return httpErr
		}
	}
	if httpErr, ok := bindingError(err); ok {
		return httpErr
	}
	return err
}

func bindingError(err error) (HTTPError, bool) {
	switch {
	case errors.Is(err, binder.ErrMissingContentType), errors.Is(err, binder.ErrUnsupportedMediaType):
		return HTTPError{Code: http.StatusUnsupportedMediaType, Key: "unsupported_media_type", Message: "body must be application/json"}, true
	case errors.Is(err, binder.ErrBodyTooLarge):
		return HTTPError{Code: http.StatusRequestEntityTooLarge, Key: "body_too_large", Message: "request body too large"}, true
	case errors.Is(err, binder.ErrInvalidJSON):
		return HTTPError{Code: http.StatusBadRequest, Key: "invalid_body", Message: err.Error()}, true
	case errors.Is(err, binder.ErrInvalidPath), errors.Is(err, binder.ErrInvalidHeader), errors.Is(err, binder.ErrInvalidQuery):
		return HTTPError{Code: http.StatusBadRequest, Key: "invalid_request", Message: err.Error()}, true
	}
	return HTTPError{}, false
}
