// Package httpserver runs the API's http.Server with graceful shutdown,
// env-driven timeouts and JSON health probes.
//
// Run blocks until the context is cancelled or SIGINT/SIGTERM arrives, then
// shuts down within the configured deadline. Listen errors are wrapped with
// ErrStart and shutdown errors with ErrShutdown.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//		log.Error("server stopped", logger.Error(err))
//	}
//
// Live and Ready build probe handlers. Ready runs every named Check with a
// per-probe timeout and answers 503 with the failing check names when any fails.
package httpserver
