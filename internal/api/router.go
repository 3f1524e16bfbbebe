package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and token issuance (no auth required)
		r.Get("/health", s.handleHealth)
		r.Post("/auth/token", s.handleToken)

		// Basic monitoring counters (no auth required)
		r.Get("/metrics", s.handleMetrics)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			// WS ticket requires authentication: the caller trades a
			// Bearer token for a single-use connection ticket.
			r.Post("/auth/ws-ticket", s.handleWSTicket)

			// State reads
			r.Get("/state", s.handleGetState)
			r.Get("/state/{field}", s.handleGetStateField)
			r.Get("/history", s.handleGetHistory)

			// Routing and presets
			r.Post("/routing", s.handleSetRouting)
			r.Route("/presets/{slot}", func(r chi.Router) {
				r.Post("/save", s.handleSavePreset)
				r.Post("/recall", s.handleRecallPreset)
				r.Post("/clear", s.handleClearPreset)
			})

			// Per-port settings
			r.Route("/outputs/{port}", func(r chi.Router) {
				r.Post("/hdcp", s.handleSetHDCP)
				r.Post("/scaler", s.handleSetScaler)
				r.Post("/hdr", s.handleSetHDR)
				r.Post("/stream", s.handleSetStream)
				r.Post("/arc", s.handleSetARC)
				r.Post("/ext-audio", s.handleSetExtAudio)
				r.Post("/audio-source", s.handleSetAudioSource)
				r.Post("/name", s.handleSetOutputName)
			})
			r.Route("/inputs/{port}", func(r chi.Router) {
				r.Post("/edid", s.handleSetEDID)
				r.Post("/name", s.handleSetInputName)
			})
			r.Post("/edid/copy", s.handleCopyEDID)

			// Global settings
			r.Post("/audio/mode", s.handleSetAudioMode)
			r.Post("/cec", s.handleSendCEC)
			r.Post("/power", s.handleSetPower)
			r.Post("/beep", s.handleSetBeep)
			r.Post("/lock", s.handleSetPanelLock)
			r.Post("/logo", s.handleSetLogo)
			r.Post("/lcd", s.handleSetLCDTimeout)

			// System
			r.Get("/system/status", s.handleSystemStatus)
			r.Post("/system/reboot", s.handleReboot)
			r.Post("/system/factory-reset", s.handleFactoryReset)
			r.Post("/system/raw", s.handleSendRaw)

			// WebSocket (auth via ticket, validated in handler)
			r.Get("/ws", s.handleWebSocket)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"uptime_s":  int(time.Since(s.started).Seconds()),
		"connected": s.session.Available(),
	})
}
