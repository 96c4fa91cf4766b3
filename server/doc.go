// Package server is the HTTP control surface an external graph editor
// talks to. It runs Gin behind a net/http middleware stack (recovery,
// request id, CORS, rate limit, body limit, request logging) and binds to
// loopback by default.
//
// # Routes
//
//	GET  /healthz                  aggregated lifecycle health
//	GET  /version                  build information
//	GET  /api/v1/components        registered component specs
//	GET  /api/v1/components/:id    one spec
//	GET  /api/v1/graph             the loaded graph
//	PUT  /api/v1/graph             load a graph; every continuous node resets to idle
//	POST /api/v1/graph/run         run the body graph, or the loaded one
//	GET  /api/v1/nodes             continuous node snapshots
//	GET  /api/v1/nodes/:id         one snapshot
//	POST /api/v1/nodes/:id/start   start a continuous node
//	POST /api/v1/nodes/:id/stop    request a stop; returns immediately
//	GET  /api/v1/nodes/:id/poll    next cycle result, 204 when none
//	GET  /api/v1/events?node=glob  snapshot changes as Server-Sent Events
//	                               (only when built WithEvents)
//
// Errors are rendered as errors.ErrorResponse with a status derived from
// the category.
package server
