// Package api exposes the query service over HTTP using fiber.
//
// Routes:
//   - POST /api/ask    answer or evaluate a student's answer (rate limited per client IP)
//   - GET  /api/health service health and the subjects that can be queried
//   - GET  /           liveness
//
// Every error response has the shape {"detail": "..."}. Client errors carry a
// descriptive detail; server-side failures carry a generic one and are logged
// in full.
package api
