// Package httpmw holds the middleware of the public proxy listener.
//
// httpserver.NewHandler composes them outermost first: recover, response
// headers, request ID, otelhttp tracing, trace headers, metrics, request
// logger, access log, route annotation, then the chi router with the
// rewrite interceptor in front of the upstream proxy.
//
// Query strings, user agents and client addresses stay out of the logs.
package httpmw
