package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"coursestream-backend/internal/events"
	"coursestream-backend/internal/handlers"
	"coursestream-backend/internal/middleware"
)

func New(
	jwtAuth *middleware.JWTAuth,
	videoHandler *handlers.VideoHandler,
	streamHandler *handlers.StreamHandler,
	wsHub *events.Hub,
	frontendURL string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(frontendURL))

	// Token issuance rate limiter (30 req/min per IP)
	tokenLimiter := middleware.NewRateLimiter(30, time.Minute)

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {

		// ──── Video Routes ────
		r.Route("/videos", func(r chi.Router) {
			// Key delivery is token-gated, not session-gated: HLS players
			// cannot send Authorization headers.
			r.Get("/{id}/hls-key", streamHandler.HLSKey)

			r.Group(func(r chi.Router) {
				r.Use(jwtAuth.Middleware)
				r.Post("/", videoHandler.Upload)
				r.Get("/{id}", videoHandler.Get)
				r.Get("/{id}/status", videoHandler.GetStatus)
				r.Delete("/{id}", videoHandler.Delete)
				r.Post("/{id}/replace", videoHandler.Replace)
				r.Get("/{id}/token-diagnostics", streamHandler.TokenDiagnostics)
				r.Post("/{id}/revoke-tokens", streamHandler.RevokeTokens)
				r.Post("/{id}/rotate-key", streamHandler.RotateKey)

				r.Group(func(r chi.Router) {
					r.Use(tokenLimiter.Middleware)
					r.Post("/{id}/access-token", streamHandler.IssueToken)
				})
			})
		})

		// ──── Stream Routes (token-gated) ────
		r.Route("/stream", func(r chi.Router) {
			r.Get("/{id}/master.m3u8", streamHandler.Stream)
			r.Get("/{id}/{quality}/playlist.m3u8", streamHandler.RungPlaylist)
		})

		// ──── WebSocket ────
		r.Get("/ws", wsHub.HandleWebSocket)
	})

	return r
}
