// Package http exposes the worker's small web surface: the Google account
// connection handshake, the ranking trigger and export, the live status
// stream, health and Prometheus metrics.
//
// Handlers stay thin. They decode and validate input, call a service
// interface and map errors to RFC 7807 problems through apperrors.
package http
