// Package binder fills request structs from parts of an HTTP request.
//
// Each binder handles one source and reads only its own struct tags, so a
// request type can mix them:
//
//	type manageRequest struct {
//		UserID    string `path:"userID"`
//		ActorID   string `header:"X-Actor-ID"`
//		ReturnURL string `json:"return_url" validate:"required,url"`
//	}
//
// BindJSON decodes the body strictly: the media type must be
// application/json, unknown fields and trailing data are rejected, and bodies
// larger than the configured limit fail with ErrBodyTooLarge. A request with
// neither body nor Content-Type returns ErrBinderNotApplicable, which
// handler.Wrap skips.
//
// Path, Header and Query bind string, bool and integer fields from route
// parameters, headers and the query string.
package binder
