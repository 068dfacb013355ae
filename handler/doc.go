// Package handler provides typed HTTP handlers with pluggable binding and
// JSON rendering.
//
// A HandlerFunc receives a Context and a request value of type R that Wrap
// fills by running binders in order. It returns a Response, which renders
// itself. Errors from binders and responses flow into one ErrorHandler.
//
// # Responses
//
// JSON writes the envelope
//
//	{"data": ..., "meta": ..., "error": {"code": ..., "message": ..., "details": ...}}
//
// with "data" for successes and "error" for failures. Fail hands an error to
// the configured ErrorHandler so handlers need not pick status codes:
//
//	func (s *Service) show(ctx handler.Context, req showRequest) handler.Response {
//		sub, err := subscription.Get(ctx, s.store, req.UserID)
//		if err != nil {
//			return handler.Fail(err)
//		}
//		return handler.JSON(newSubscriptionResponse(sub))
//	}
//
// # Errors
//
// NewErrorHandler renders every error as JSON. Domain errors are classified
// by ErrorMapper functions into HTTPError values; ValidationError becomes 400
// validation_failed with per-field details; anything unclassified is a 500
// whose text is not exposed.
//
//	errs := handler.NewErrorHandler(log, func(err error) (handler.HTTPError, bool) {
//		if errors.Is(err, subscription.ErrSubscriptionNotFound) {
//			return handler.HTTPError{Code: http.StatusNotFound, Key: "subscription_not_found"}, true
//		}
//		return handler.HTTPError{}, false
//	})
//
// # Decorators
//
// Decorators wrap a HandlerFunc for cross-cutting behaviour such as
// authorization checks. The first decorator in the list is the outermost.
package handler
