// Package router provides centralized API route registration.
// All HTTP routes are registered here, with a security/CORS/request-id
// chain applied uniformly and an extra rate limiter layered onto the
// mutating routes, mirroring the reference codebase's own grouped
// registration and secure/secureRL helper split.
package router

import (
	"net/http"
	"time"

	"github.com/fralid/video-search-editor/internal/handler"
	"github.com/fralid/video-search-editor/internal/middleware"
)

// Register registers all API routes to http.DefaultServeMux and returns a
// cleanup function that stops the rate limiter's background goroutine.
func Register(app *handler.App) func() {
	secureAPI := middleware.Chain(
		middleware.SecurityHeaders(),
		middleware.CORS(),
		middleware.RequestID(),
	)

	// Mutating routes (scan, process-pending, reprocess, delete, search,
	// queue removal) are cheap to call but expensive to act on, so they get
	// their own rate limiter, which also covers GET /queue; GET /videos and
	// /health are not rate limited.
	mutateRL := middleware.NewRateLimiter(60, time.Minute)
	rateLimit := mutateRL.Limit()

	secure := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(h)
	}
	secureRL := func(h http.HandlerFunc) http.HandlerFunc {
		return secureAPI(rateLimit(h))
	}

	// ── Videos ──
	http.HandleFunc("/videos/scan", secureRL(handler.HandleVideosScan(app)))
	http.HandleFunc("/videos/process-pending", secureRL(handler.HandleVideosProcessPending(app)))
	http.HandleFunc("/videos", secure(handler.HandleVideosList(app)))
	http.HandleFunc("/videos/", secureRL(handler.HandleVideoByID(app)))

	// ── Search ──
	http.HandleFunc("/search", secureRL(handler.HandleSearch(app)))

	// ── Queue ──
	http.HandleFunc("/queue", secureRL(handler.HandleQueue(app)))
	http.HandleFunc("/queue/", secureRL(handler.HandleQueueByID(app)))

	// ── Health check ──
	http.HandleFunc("/health", secure(handler.HandleHealth()))

	return func() {
		mutateRL.Stop()
	}
}
