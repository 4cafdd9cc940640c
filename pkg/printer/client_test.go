// Unit tests for the Moonraker client
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package printer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"bend5x/pkg/errors"
)

// fakeMoonraker records requests and serves canned responses.
type fakeMoonraker struct {
	mu      sync.Mutex
	scripts []string
	uploads []string
	prints  []string
}

func (f *fakeMoonraker) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/server/info", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"result": map[string]bool{"klippy_connected": true}})
	})
	mux.HandleFunc("/printer/gcode/script", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Script string `json:"script"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.scripts = append(f.scripts, body.Script)
		f.mu.Unlock()
		w.Write([]byte(`{"result": "ok"}`))
	})
	mux.HandleFunc("/server/files/upload", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file.Close()
		if r.FormValue("root") != "gcodes" {
			http.Error(w, "wrong root", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.uploads = append(f.uploads, header.Filename)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"item": map[string]string{"path": header.Filename},
		})
	})
	mux.HandleFunc("/printer/print/start", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Filename string `json:"filename"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.prints = append(f.prints, body.Filename)
		f.mu.Unlock()
		w.Write([]byte(`{"result": "ok"}`))
	})
	mux.HandleFunc("/printer/objects/query", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"result": map[string]interface{}{
				"status": map[string]interface{}{
					"print_stats": map[string]interface{}{"state": "printing", "filename": "KLIPPER_part.gcode"},
					"toolhead":    map[string]interface{}{"position": []float64{1, 2, 3, 0}, "homed_axes": "xyz"},
					"extruder":    map[string]interface{}{"temperature": 209.6, "target": 210.0},
				},
			},
		})
	})
	return mux
}

func (f *fakeMoonraker) sentScripts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.scripts...)
}

func newTestClient(t *testing.T) (*Client, *fakeMoonraker) {
	t.Helper()
	fake := &fakeMoonraker{}
	ts := httptest.NewServer(fake.handler())
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), fake
}

func TestTestConnection(t *testing.T) {
	c, _ := newTestClient(t)
	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection failed: %v", err)
	}

	bad := NewClient("http://127.0.0.1:1")
	err := bad.TestConnection(context.Background())
	if err == nil {
		t.Fatal("TestConnection to a dead port succeeded")
	}
	if !errors.IsCode(err, errors.ErrPrinter) {
		t.Errorf("wrong error code: %v", err)
	}
}

func TestSendGCodeAndShortcuts(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	if err := c.SendGCode(ctx, "G28"); err != nil {
		t.Fatal(err)
	}
	if err := c.EmergencyStop(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveStepper(ctx, StepperB, 45); err != nil {
		t.Fatal(err)
	}

	want := []string{"G28", "M112", "ACTUATE STEPPER=b_stepper MOVE=45"}
	got := fake.sentScripts()
	if len(got) != len(want) {
		t.Fatalf("scripts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("script[%d] = %q; want %q", i, got[i], want[i])
		}
	}
}

func TestUploadAndPrint(t *testing.T) {
	c, fake := newTestClient(t)

	dir := t.TempDir()
	path := filepath.Join(dir, "KLIPPER_part.gcode")
	if err := os.WriteFile(path, []byte("G28\nG1 X1 Y1 Z0.28\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := c.UploadAndPrint(context.Background(), path); err != nil {
		t.Fatalf("UploadAndPrint failed: %v", err)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.uploads) != 1 || fake.uploads[0] != "KLIPPER_part.gcode" {
		t.Errorf("uploads = %v", fake.uploads)
	}
	if len(fake.prints) != 1 || fake.prints[0] != "KLIPPER_part.gcode" {
		t.Errorf("prints = %v", fake.prints)
	}
}

func TestUploadMissingFile(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.UploadFile(context.Background(), "/nonexistent/part.gcode")
	if err == nil {
		t.Fatal("UploadFile of a missing file succeeded")
	}
	if !errors.IsCode(err, errors.ErrIO) {
		t.Errorf("wrong error code: %v", err)
	}
}

func TestQueryStatus(t *testing.T) {
	c, _ := newTestClient(t)
	status, err := c.QueryStatus(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if status.PrintStats.State != "printing" {
		t.Errorf("State = %q; want printing", status.PrintStats.State)
	}
	if status.Extruder.Target != 210 {
		t.Errorf("Target = %v; want 210", status.Extruder.Target)
	}
	if len(status.Toolhead.Position) != 4 {
		t.Errorf("Position = %v", status.Toolhead.Position)
	}
}

func TestSetupSequences(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	if err := c.MassProductionSetup(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"G91",
		"G1 Z15 F1000",
		"G90",
		"ACTUATE STEPPER=a_stepper MOVE=90",
		"ACTUATE STEPPER=b_stepper MOVE=-45",
	}
	got := fake.sentScripts()
	if len(got) != len(want) {
		t.Fatalf("scripts = %v; want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("script[%d] = %q; want %q", i, got[i], want[i])
		}
	}

	fake.mu.Lock()
	fake.scripts = nil
	fake.mu.Unlock()

	if err := c.FiveAxisSetup(ctx); err != nil {
		t.Fatal(err)
	}
	want = []string{"G91", "G1 Z25 F1000", "G90", "ACTUATE STEPPER=b_stepper MOVE=-90"}
	got = fake.sentScripts()
	if len(got) != len(want) {
		t.Fatalf("scripts = %v; want %v", got, want)
	}
}

func TestSequenceStopsAtFirstFailure(t *testing.T) {
	var count int
	var mu sync.Mutex
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		n := count
		mu.Unlock()
		if n >= 2 {
			http.Error(w, "shutdown state", http.StatusConflict)
			return
		}
		w.Write([]byte(`{"result": "ok"}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL)
	err := c.FiveAxisSetup(context.Background())
	if err == nil {
		t.Fatal("sequence succeeded against a failing printer")
	}
	mu.Lock()
	defer mu.Unlock()
	if count != 2 {
		t.Errorf("sent %d commands after failure; want 2", count)
	}
}

func TestAPIKeyHeader(t *testing.T) {
	var gotKey string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-Api-Key")
		w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL, WithAPIKey("secret"))
	if err := c.TestConnection(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotKey != "secret" {
		t.Errorf("X-Api-Key = %q; want secret", gotKey)
	}
}

func TestFollowStatus(t *testing.T) {
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/websocket" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the subscription request.
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		conn.WriteJSON(map[string]interface{}{"jsonrpc": "2.0", "id": 1, "result": map[string]interface{}{}})
		conn.WriteJSON(map[string]interface{}{
			"jsonrpc": "2.0",
			"method":  "notify_status_update",
			"params": []interface{}{
				map[string]interface{}{
					"print_stats": map[string]interface{}{"state": "printing"},
				},
				1234.5,
			},
		})
		time.Sleep(50 * time.Millisecond)
	}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c := NewClient(ts.URL)
	updates, err := c.FollowStatus(ctx)
	if err != nil {
		t.Fatalf("FollowStatus failed: %v", err)
	}

	update, ok := <-updates
	if !ok {
		t.Fatal("updates channel closed before first update")
	}
	stats, ok := update["print_stats"]
	if !ok {
		t.Fatalf("update missing print_stats: %v", update)
	}
	if stats["state"] != "printing" {
		t.Errorf("state = %v; want printing", stats["state"])
	}

	// Server hangs up; the channel must close.
	if _, ok := <-updates; ok {
		t.Error("updates channel delivered after server hangup")
	}
}
