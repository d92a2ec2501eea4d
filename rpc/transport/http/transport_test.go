package http

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ValentinKolb/idkv/rpc/common"
)

// newTestServer starts the routes of a server transport on a random port
func newTestServer(t *testing.T, metrics func(w io.Writer)) *httptest.Server {
	t.Helper()

	srv := &httpServerTransport{}
	srv.RegisterHandler(func(shardId uint64, req []byte) []byte {
		return append([]byte{byte(shardId)}, req...)
	})
	if metrics != nil {
		srv.RegisterMetrics(metrics)
	}

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts
}

func TestRoundTrip(t *testing.T) {
	ts := newTestServer(t, nil)

	client := NewHttpClientTransport()
	if err := client.Connect(common.ClientConfig{Endpoints: []string{ts.URL}, TimeoutSecond: 5}); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	resp, err := client.Send(3, []byte("ping"))
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if !bytes.Equal(resp, []byte("\x03ping")) {
		t.Errorf("Expected shard id and echo, got %q", resp)
	}
}

func TestInvalidShardId(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Post(ts.URL+"/abc", "application/octet-stream", nil)
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Run("Registered", func(t *testing.T) {
		ts := newTestServer(t, func(w io.Writer) {
			io.WriteString(w, "idb_flushes_total 1\n")
		})

		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode != http.StatusOK || string(body) != "idb_flushes_total 1\n" {
			t.Errorf("Unexpected metrics response %d %q", resp.StatusCode, body)
		}
	})

	t.Run("NotRegistered", func(t *testing.T) {
		ts := newTestServer(t, nil)

		resp, err := http.Get(ts.URL + "/metrics")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("Expected status 404, got %d", resp.StatusCode)
		}
	})
}

func TestClientRetriesNextEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	// the first endpoint refuses connections
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	client := NewHttpClientTransport()
	err := client.Connect(common.ClientConfig{
		Endpoints:     []string{deadURL, ts.URL},
		TimeoutSecond: 5,
		RetryCount:    2,
	})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	for i := 0; i < 4; i++ {
		if _, err := client.Send(0, []byte("x")); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}
}

func TestClientNotConnected(t *testing.T) {
	client := NewHttpClientTransport()
	if _, err := client.Send(0, nil); err == nil {
		t.Error("Expected error for unconnected transport")
	}
	if err := client.Connect(common.ClientConfig{}); err == nil {
		t.Error("Expected error without endpoints")
	}
}

func TestShutdownBeforeListen(t *testing.T) {
	srv := NewHttpServerTransport()
	srv.RegisterHandler(func(uint64, []byte) []byte { return nil })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := srv.Listen(common.ServerConfig{Endpoint: "127.0.0.1:0"}); err != nil {
		t.Errorf("Listen after Shutdown should return nil, got %v", err)
	}
}
