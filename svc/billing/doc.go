// Package billing exposes the subscription engine over HTTP.
//
// The router serves provider webhooks, checkout creation, self-service
// management, the per-user subscription view and the admin override path:
//
//	POST   /webhooks/{provider}
//	POST   /checkout
//	GET    /subscriptions/{userID}
//	POST   /subscriptions/{userID}/manage
//	POST   /subscriptions/{userID}/sync
//	POST   /admin/subscriptions/{userID}/override
//	DELETE /admin/subscriptions/{userID}/override
//
// Routes are typed handler.HandlerFunc values. Path parameters, headers,
// query values and JSON bodies are bound by the binder package and checked
// against validate tags before the handler runs.
//
// Responses use the handler JSON envelope: {"data": ...} on success and
// {"error": {"code": ..., "message": ..., "details": ...}} on failure.
// Engine errors are mapped to stable codes; server-side failures carry a
// generic message instead of internal error text. Webhook endpoints answer
// 400 only when the payload fails authentication; every verified delivery is
// acknowledged with 200 so providers stop retrying. Webhook payloads are kept
// as raw bytes for signature checks.
//
// Usage:
//
//	svc := billing.NewService(reconciler, orchestrator, manager, store,
//		billing.WithLogger(log),
//		billing.WithRecorder(collector),
//		billing.WithMiddleware(collector.Middleware),
//	)
//	r := chi.NewRouter()
//	r.Mount("/", svc.Handle())
package billing
