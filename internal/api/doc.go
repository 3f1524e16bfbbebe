// Package api implements the HTTP REST API and WebSocket server for Matrix Core.
//
// This package provides:
//   - REST endpoints for device state, routing, presets, and settings
//   - WebSocket hub for real-time state change broadcasts
//   - JWT authentication with ticket-based WebSocket auth
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between user interfaces and the device session.
// Commands flow through the session's command queue to the matrix over
// TCP, and confirmed state changes flow back through the state store,
// which this package broadcasts to WebSocket clients.
//
// Command endpoints are synchronous: the handler submits the command
// and waits for the device to confirm (or the request context to
// expire) before responding, so a 200 means the matrix accepted it.
//
// # Security
//
// POST /api/v1/auth/token exchanges the configured admin password for
// a short-lived HS256 JWT. All other endpoints except /health require
// a Bearer token. WebSocket connections use single-use tickets to keep
// tokens out of URLs.
package api
