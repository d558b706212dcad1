// Package api is the HTTP surface of the service.
//
// Routes:
//
//	POST /api/create-checkout-session   hosted checkout for the subscription upgrade
//	POST /api/webhooks/payments         signed payment provider notifications
//	GET  /api/usage                     usage snapshot (bearer token)
//	POST /api/usage/check               allowance check (bearer token)
//	POST /api/generate                  metered document generation (bearer token)
//	GET  /health/live, /health/ready    probes
//	GET  /metrics                       Prometheus exposition
//
// Every JSON response uses the handler envelope: {"data": ...} on success
// and {"error": {"code", "message"}} on failure.
package api
