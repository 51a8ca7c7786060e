// Package instrumentation provides OpenTelemetry instrumentation for the issuer.
//
// It owns the meter and tracer providers and a pre-registered set of metric
// instruments. When disabled, no-op providers are used and recording is free.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		ServiceName:        "oauth-issuer",
//		ServiceVersion:     "1.0.0",
//		Enabled:            true,
//		PrometheusExporter: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	srv.SetInstrumentation(inst)
//	mux.Handle("/metrics", inst.PrometheusHandler())
//
// # Available Metrics
//
// HTTP Layer:
//   - oauth.http.requests.total{method, endpoint, status}
//   - oauth.http.request.duration{endpoint}
//
// OAuth Flows:
//   - oauth.authorization.started{client_id}
//   - oauth.code.exchanged{client_id, pkce_method}
//   - oauth.token.refreshed{one_time_use}
//   - oauth.grant.rejected{grant_type, error}
//
// Security:
//   - oauth.rate_limit.exceeded{endpoint}
//   - oauth.pkce.validation_failed{method}
//   - oauth.token.reuse_detected
//
// Storage:
//   - storage.operation.total{operation, result}
//   - storage.operation.duration{operation}
//   - storage.codes.count, storage.clients.count
//
// # Privacy
//
// Client IPs are only attached to spans when Config.LogClientIPs is set.
// Credentials are never recorded.
package instrumentation
