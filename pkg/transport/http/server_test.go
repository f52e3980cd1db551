package http

import (
	"context"
	"errors"
	"io"
	"net"
	gohttp "net/http"
	"sync/atomic"
	"testing"
	"time"
)

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	return ln
}

func TestServerStartsAndAcceptsRequests(t *testing.T) {
	srv := NewServer(gohttp.HandlerFunc(handleHealthz))
	ln := listen(t)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	resp, err := gohttp.Get("http://" + addr + "/healthz")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != gohttp.StatusOK || string(body) != "ok\n" {
		t.Errorf("response = %d %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	started := make(chan struct{})
	slow := gohttp.HandlerFunc(func(w gohttp.ResponseWriter, r *gohttp.Request) {
		close(started)
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(gohttp.StatusOK)
	})

	srv := NewServer(slow, WithShutdownTimeout(5*time.Second))
	ln := listen(t)
	addr := ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Serve(ctx, ln)

	responseCh := make(chan int, 1)
	go func() {
		resp, err := gohttp.Get("http://" + addr + "/")
		if err != nil {
			responseCh <- 0
			return
		}
		resp.Body.Close()
		responseCh <- resp.StatusCode
	}()

	<-started
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	srv.Shutdown(shutdownCtx)

	if status := <-responseCh; status != gohttp.StatusOK {
		t.Errorf("slow request status = %d, want %d", status, gohttp.StatusOK)
	}
}

func TestServerShutdownHooks(t *testing.T) {
	var calls atomic.Int32
	failing := errors.New("hub did not drain")

	srv := NewServer(gohttp.NotFoundHandler(),
		WithShutdownHook(func(context.Context) error { calls.Add(1); return failing }),
		WithShutdownHook(func(context.Context) error { calls.Add(1); return nil }),
	)
	go srv.Serve(context.Background(), listen(t))
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := srv.Shutdown(ctx)

	if calls.Load() != 2 {
		t.Errorf("hooks run = %d, want 2", calls.Load())
	}
	if !errors.Is(err, failing) {
		t.Errorf("Shutdown error = %v, want hook error", err)
	}
}

func TestServerFunctionalOptions(t *testing.T) {
	srv := NewServer(gohttp.NotFoundHandler(),
		WithAddr(":9999"),
		WithReadTimeout(5*time.Second),
		WithWriteTimeout(7*time.Second),
		WithShutdownTimeout(10*time.Second),
	)

	if srv.config.Addr != ":9999" {
		t.Errorf("addr = %q, want %q", srv.config.Addr, ":9999")
	}
	if srv.httpServer.ReadTimeout != 5*time.Second {
		t.Errorf("read timeout = %v", srv.httpServer.ReadTimeout)
	}
	if srv.httpServer.WriteTimeout != 7*time.Second {
		t.Errorf("write timeout = %v", srv.httpServer.WriteTimeout)
	}
	if srv.config.ShutdownTimeout != 10*time.Second {
		t.Errorf("shutdown timeout = %v, want %v", srv.config.ShutdownTimeout, 10*time.Second)
	}
}

func TestServerRunReportsListenError(t *testing.T) {
	ln := listen(t)
	defer ln.Close()

	srv := NewServer(gohttp.NotFoundHandler(), WithAddr(ln.Addr().String()))
	if err := srv.Run(context.Background()); err == nil {
		t.Fatal("Run on a taken address returned nil")
	}
}
