// Package api provides the HTTP diagnostics and control API of halirc.
//
// It exposes device queues, the action dispatcher, the trigger and timer
// tables, the journal and Prometheus metrics, and accepts injected events
// and device actions for testing automations without a remote.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
