package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

type ipv4Server struct {
	URL string
	srv *http.Server
}

func newIPv4Server(t *testing.T, handler http.Handler) *ipv4Server {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		if errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM) {
			t.Skipf("skipping test: cannot open local listener (%v)", err)
		}
		t.Fatalf("listen tcp4: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			panic(fmt.Sprintf("test server serve: %v", err))
		}
	}()
	s := &ipv4Server{URL: "http://" + ln.Addr().String(), srv: srv}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
	return s
}

func sequenceServer(t *testing.T, statuses []int, body any) (*ipv4Server, *int32) {
	t.Helper()
	var calls int32
	s := newIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/compute" {
			http.NotFound(w, r)
			return
		}
		i := int(atomic.AddInt32(&calls, 1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		st := statuses[i]
		w.WriteHeader(st)
		if st >= 200 && st < 300 {
			_ = json.NewEncoder(w).Encode(body)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "nope", "code": http.StatusText(st)}})
	}))
	return s, &calls
}

func TestRemoteRetriesServerErrors(t *testing.T) {
	s, calls := sequenceServer(t, []int{500, 503, 200}, Output{Summary: "ok", Tables: []Table{{Title: "T"}}})
	c := NewRemote(s.URL, "k", 2*time.Second, 3, time.Millisecond, 5*time.Millisecond)
	out, err := c.Compute(context.Background(), Request{Method: MethodDescribe, Series: []float64{1}})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if out.Summary != "ok" || atomic.LoadInt32(calls) != 3 {
		t.Fatalf("summary=%q calls=%d", out.Summary, *calls)
	}
}

func TestRemoteClassifiesErrors(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{401, func(err error) bool { var e *AuthError; return errors.As(err, &e) }},
		{400, func(err error) bool { var e *BadRequestError; return errors.As(err, &e) }},
		{501, func(err error) bool {
			var e *UnsupportedMethodError
			return errors.As(err, &e) && e.Method == MethodDiscriminant
		}},
		{502, func(err error) bool { var e *ServerError; return errors.As(err, &e) }},
	}
	for _, tc := range cases {
		s, calls := sequenceServer(t, []int{tc.status}, nil)
		c := NewRemote(s.URL, "", time.Second, 2, time.Millisecond, time.Millisecond)
		_, err := c.Compute(context.Background(), Request{Method: MethodDiscriminant})
		if !tc.check(err) {
			t.Fatalf("status %d: unexpected error %T %v", tc.status, err, err)
		}
		if tc.status < 500 && atomic.LoadInt32(calls) != 1 {
			t.Fatalf("status %d must not be retried", tc.status)
		}
	}
}

func TestRemoteUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	c := NewRemote("http://"+addr, "", time.Second, 1, time.Millisecond, time.Millisecond)
	_, err = c.Compute(context.Background(), Request{Method: MethodDescribe})
	var ue *UnreachableError
	if !errors.As(err, &ue) || ue.Host != addr {
		t.Fatalf("expected UnreachableError, got %v", err)
	}
}

func TestRemoteRequiresURL(t *testing.T) {
	e, _ := GetEngine(NameRemote, Config{})
	if _, err := e.Compute(context.Background(), Request{Method: MethodDescribe}); err == nil {
		t.Fatalf("expected configuration error")
	}
}
