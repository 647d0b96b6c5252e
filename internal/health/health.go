// Package health implements lightweight readiness checks the CLI can run
// before (or while) a session is live: is the network sink's downstream
// reachable, is Core's evidence-stream endpoint accepting connections.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// CheckSinkReachable dials addr (host:port) with a bounded timeout and
// closes immediately — a readiness probe for the Network Sink's downstream
// consumer, not a connection the pipeline will actually use.
func CheckSinkReachable(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("no sink address configured")
	}
	var d net.Dialer
	d.Timeout = 5 * time.Second
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("sink unreachable: %w", err)
	}
	return conn.Close()
}

// CheckEvidenceEndpoint confirms Core's evidence-stream listener at addr is
// accepting plain-TCP connections (the h2c transport Streamer dials),
// without performing the HELLO handshake itself.
func CheckEvidenceEndpoint(ctx context.Context, addr string) error {
	if addr == "" {
		return fmt.Errorf("no evidence stream address configured")
	}
	var d net.Dialer
	d.Timeout = 5 * time.Second
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("evidence endpoint unreachable: %w", err)
	}
	return conn.Close()
}

// ReadinessHandler reports 200 once sinkAddr and (if non-empty)
// evidenceAddr both accept connections, 503 otherwise — wired at /readyz
// alongside the plain /healthz liveness check.
func ReadinessHandler(sinkAddr, evidenceAddr string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := CheckSinkReachable(ctx, sinkAddr); err != nil {
			http.Error(w, "sink: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		if evidenceAddr != "" {
			if err := CheckEvidenceEndpoint(ctx, evidenceAddr); err != nil {
				http.Error(w, "evidence: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ready")
	})
}
