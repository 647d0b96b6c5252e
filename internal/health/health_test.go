package health

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func listenLoopback(t *testing.T) (addr string, cleanup func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestCheckSinkReachable_ok(t *testing.T) {
	addr, cleanup := listenLoopback(t)
	defer cleanup()
	if err := CheckSinkReachable(context.Background(), addr); err != nil {
		t.Fatalf("CheckSinkReachable: %v", err)
	}
}

func TestCheckSinkReachable_unreachable(t *testing.T) {
	if err := CheckSinkReachable(context.Background(), "127.0.0.1:1"); err == nil {
		t.Fatal("expected an error dialing a closed port")
	}
}

func TestCheckSinkReachable_empty(t *testing.T) {
	if err := CheckSinkReachable(context.Background(), ""); err == nil {
		t.Fatal("expected an error for an empty address")
	}
}

func TestCheckEvidenceEndpoint_ok(t *testing.T) {
	addr, cleanup := listenLoopback(t)
	defer cleanup()
	if err := CheckEvidenceEndpoint(context.Background(), addr); err != nil {
		t.Fatalf("CheckEvidenceEndpoint: %v", err)
	}
}

func TestReadinessHandler_ready(t *testing.T) {
	sinkAddr, cleanup := listenLoopback(t)
	defer cleanup()

	srv := httptest.NewServer(ReadinessHandler(sinkAddr, ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestReadinessHandler_sinkDown(t *testing.T) {
	srv := httptest.NewServer(ReadinessHandler("127.0.0.1:1", ""))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}
