// Package httputil provides the HTTP plumbing shared by the API handlers:
// JSON responses, request parsing and request-scoped middleware.
//
// # Responses
//
//	httputil.WriteSuccess(w, estimate)
//	httputil.WriteCreated(w, rfi)
//	httputil.WriteError(w, r, err)
//
// WriteError renders typed errors from pkg/apperrors with their status and
// code. Anything else is logged and returned as a 500 without detail.
//
// # Request parsing
//
//	var req createRFIRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	id, ok := httputil.ParsePathUUIDOrError(w, r, "id")
//
// # Middleware
//
//	router.Use(httputil.RequestID, httputil.Logging(logger))
package httputil
