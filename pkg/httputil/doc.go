// Package httputil provides HTTP utilities shared by the guard pipeline and the API server.
//
// # Response Helpers
//
//	httputil.WriteJSON(w, http.StatusOK, data)
//	httputil.WriteError(w, http.StatusForbidden, httputil.ErrorResponse{Error: "Forbidden", RequestID: id})
//	httputil.SetRateLimitHeaders(w, httputil.RateLimitInfo{Limit: 5, Remaining: 0, ResetAt: reset})
//
// # Request Helpers
//
//	id := httputil.RequestID(r)          // echo X-Request-ID or mint a UUID
//	ip := httputil.ClientIP(r, trusted)  // forwarding headers only behind a trusted proxy
//	tok := httputil.BearerToken(r)
//
// # Middleware
//
//	router.Use(httputil.RecoveryMiddleware(logger), httputil.LoggingMiddleware(logger))
package httputil
