// Package redis connects to Redis with go-redis and exposes a readiness
// probe for the HTTP health endpoints.
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	ready := httpserver.Ready(log, redis.Check(client))
//
// Errors are sentinel values joined with the driver error, so callers match
// them with errors.Is.
package redis
