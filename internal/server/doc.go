// Package server implements the HTTP API for the four-eyes audit service.
//
// This package provides:
//   - Deployment recording and status/history endpoints for the dashboard
//   - Verification and reconciliation triggers
//   - Per-IP rate limiting
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/store: deployment statuses and the append-only history trail
//   - internal/reconcile: single-deployment verification and bulk jobs
//
// Rendering, authentication and report layout live outside this service;
// the API is a thin surface over the verification core.
package server
