package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/KaramelBytes/statloom-cli/internal/dataset"
	"github.com/KaramelBytes/statloom-cli/internal/dispatch"
	"github.com/KaramelBytes/statloom-cli/internal/engine"
	"github.com/KaramelBytes/statloom-cli/internal/ledger"
	"github.com/KaramelBytes/statloom-cli/internal/pipeline"
)

type fixture struct {
	srv     *Server
	hub     *Hub
	results *ledger.MemoryStore
}

func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	ds := dataset.New("sales")
	for _, name := range []string{"month", "sales"} {
		kind := dataset.KindNumeric
		if name == "month" {
			kind = dataset.KindString
		}
		if _, err := ds.DefineColumn(dataset.ColumnDescriptor{Name: name, Type: kind}); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < n; i++ {
		ds.Rows = append(ds.Rows, []string{fmt.Sprintf("m%02d", i+1), fmt.Sprint(50 + i*2 + (i%4)*3)})
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	hub := NewHub(nil)
	go hub.Run(ctx)

	reg := prometheus.NewRegistry()
	results := ledger.NewMemoryStore()
	eng, _ := engine.GetEngine(engine.NameLocal, engine.Config{})
	wb, err := pipeline.New(pipeline.Config{
		Dataset:    ds,
		Writer:     dataset.NewWriter(dataset.NewMemoryStore(ds)),
		Ledger:     ledger.New(results, nil),
		Engine:     eng,
		Dispatcher: dispatch.New(dispatch.WithMetrics(dispatch.NewMetrics(reg))),
		Notifier:   hub,
	})
	if err != nil {
		t.Fatal(err)
	}
	srv, err := New(Config{Workbench: wb, Results: results, Hub: hub, Gatherer: reg})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{srv: srv, hub: hub, results: results}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestGetColumns(t *testing.T) {
	f := newFixture(t, 12)
	rec := f.do(t, http.MethodGet, "/api/columns", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got columnsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Rows != 12 || len(got.Columns) != 2 || got.Columns[1].Name != "sales" {
		t.Fatalf("unexpected columns: %+v", got)
	}
}

func TestRunAnalysisValidationIs422(t *testing.T) {
	f := newFixture(t, 16)
	rec := f.do(t, http.MethodPost, "/api/analyses/decomposition",
		`{"selection":{"dependent":["sales"],"label":"month"},"options":{"period":4}}`)
	if rec.Code != http.StatusOK && rec.Code != http.StatusAccepted {
		t.Fatalf("period 4 over 16 rows should pass, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = f.do(t, http.MethodPost, "/api/analyses/decomposition",
		`{"selection":{"dependent":["sales"],"label":"month"},"options":{"period":5}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var er errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &er); err != nil {
		t.Fatal(err)
	}
	if er.Category != pipeline.CategoryValidation || !strings.Contains(er.Message, "periodicity") {
		t.Fatalf("unexpected error body: %+v", er)
	}

	rec = f.do(t, http.MethodPost, "/api/analyses/cluster", `{"selection":{"dependent":["sales"]}}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown kind: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/api/analyses/describe", `{"selection":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad body: status %d", rec.Code)
	}
}

func TestRunAnalysisWaitAndRuns(t *testing.T) {
	f := newFixture(t, 12)
	rec := f.do(t, http.MethodPost, "/api/analyses/smoothing",
		`{"selection":{"dependent":["sales"],"label":"month"},"options":{"window":3,"save":true},"wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp analysisResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.RunID == "" || len(resp.Columns) != 1 || resp.Columns[0] != "sales_ma" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Report == nil || resp.Report.Tables == 0 || len(resp.Errors) != 0 {
		t.Fatalf("unexpected report: %+v", resp.Report)
	}

	rec = f.do(t, http.MethodGet, "/api/columns", "")
	if !strings.Contains(rec.Body.String(), "sales_ma") {
		t.Fatalf("written column not listed: %s", rec.Body.String())
	}

	rec = f.do(t, http.MethodGet, "/api/runs?run="+string(resp.RunID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("runs status %d", rec.Code)
	}
	var tree ledger.Tree
	if err := json.Unmarshal(rec.Body.Bytes(), &tree); err != nil {
		t.Fatal(err)
	}
	if len(tree.Runs) != 1 || tree.TableCount() != resp.Report.Tables {
		t.Fatalf("tree mismatch: %d runs, %d tables", len(tree.Runs), tree.TableCount())
	}
	if rec := f.do(t, http.MethodGet, "/api/runs?run=missing", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown run: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "statloom_tasks_total") {
		t.Fatalf("metrics missing task counter: %d", rec.Code)
	}
}

func TestWebSocketReceivesEvents(t *testing.T) {
	f := newFixture(t, 12)
	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// registration is asynchronous to the handshake; keep notifying until delivered
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				f.hub.Notify(pipeline.Event{Type: pipeline.EventRunStarted, RunID: "r1"})
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	first := strings.SplitN(string(msg), "\n", 2)[0]
	var ev pipeline.Event
	if err := json.Unmarshal([]byte(first), &ev); err != nil {
		t.Fatalf("decode %q: %v", first, err)
	}
	if ev.Type != pipeline.EventRunStarted || ev.RunID != "r1" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}
