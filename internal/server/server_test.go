package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/TobiSchelling/demoproc/internal/database"
	"github.com/TobiSchelling/demoproc/internal/ledger"
)

const event = "SelectCoder (10/5/2022)"

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newServer(t *testing.T, store ledger.Store, db *database.DB, templatePath string) *Server {
	t.Helper()
	srv, err := New(store, db, templatePath, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func get(t *testing.T, srv *Server, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("GET", target, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func finishStage(t *testing.T, db *database.DB, stage int) {
	t.Helper()
	id, err := db.StartStageRun(event, stage)
	if err != nil {
		t.Fatalf("StartStageRun: %v", err)
	}
	if err := db.FinishStageRun(id, database.StatusDone, "ok", ""); err != nil {
		t.Fatalf("FinishStageRun: %v", err)
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	store := ledger.NewMemoryStore(event)
	if err := store.Update(event, ledger.Updates{ledger.AInitialCount: ledger.Int(4)}); err != nil {
		t.Fatal(err)
	}
	finishStage(t, db, 1)
	finishStage(t, db, 2)

	rec := get(t, newServer(t, store, db, ""), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Desktop database round trip (2/7)") {
		t.Error("expected progress through stage 2 in response body")
	}
	if !strings.Contains(body, `class="off">-4<`) {
		t.Error("expected an unbalanced CRM variance of -4")
	}
	if !strings.Contains(body, "/event?key=SelectCoder%20%2810%2f5%2f2022%29") {
		t.Errorf("expected an escaped link to the event, got:\n%s", body)
	}
}

func TestIndexEmptyLedger(t *testing.T) {
	rec := get(t, newServer(t, ledger.NewMemoryStore(), openTestDB(t), ""), "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No events in the ledger") {
		t.Error("expected the empty-ledger hint")
	}
}

func TestEventRoute(t *testing.T) {
	db := openTestDB(t)
	store := ledger.NewMemoryStore(event)
	if err := store.Update(event, ledger.Updates{
		ledger.ANew:            ledger.Int(12),
		ledger.NullPhone:       ledger.Int(0),
		ledger.RequestedAssign: ledger.String("BDR"),
	}); err != nil {
		t.Fatal(err)
	}
	finishStage(t, db, 1)

	tmpl := filepath.Join(t.TempDir(), "communication.txt")
	content := "# [demo type] results\n\n- [a_new] new leads\n- [null_phone] without phone\n"
	if err := os.WriteFile(tmpl, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	rec := get(t, newServer(t, store, db, tmpl), "/event?key="+url.QueryEscape(event))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"<h1>SelectCoder results</h1>",
		"<li>12 new leads</li>",
		"Intake counts",
		"<code>requested_assign</code></td><td>BDR</td>",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("expected %q in response body", want)
		}
	}
	if strings.Contains(body, "without phone") {
		t.Error("zero-count lines should be dropped from the communication")
	}
}

func TestEventRouteUnknown(t *testing.T) {
	rec := get(t, newServer(t, ledger.NewMemoryStore(event), openTestDB(t), ""), "/event?key=Nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestEventRouteWithoutKey(t *testing.T) {
	rec := get(t, newServer(t, ledger.NewMemoryStore(event), openTestDB(t), ""), "/event")
	if rec.Code != http.StatusFound {
		t.Errorf("expected 302, got %d", rec.Code)
	}
}

func TestStaticFiles(t *testing.T) {
	rec := get(t, newServer(t, ledger.NewMemoryStore(), openTestDB(t), ""), "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestDemoType(t *testing.T) {
	tests := map[string]string{
		event:                      "SelectCoder",
		"HC Demo (Fri) (1/6/2023)": "HC Demo (Fri)",
		"bare":                     "bare",
	}
	for key, want := range tests {
		if got := demoType(key); got != want {
			t.Errorf("demoType(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	srv := newServer(t, ledger.NewMemoryStore(), openTestDB(t), "")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, srv, 0) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}
