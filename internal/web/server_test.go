package web

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cwebp-go/internal/compressor"
	"cwebp-go/internal/config"
	"cwebp-go/internal/inspector"
	"cwebp-go/internal/platform/platformtest"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type testEnv struct {
	server *Server
	http   *httptest.Server
	work   string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	base := t.TempDir()
	resolver := platformtest.Install(t, filepath.Join(base, "bin"))

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := config.DefaultConfig()
	cfg.BinDirectory = resolver.BaseDir
	cfg.Compress.MultiThreaded = true

	comp := compressor.NewCWebPCompressor(resolver, log)
	insp := inspector.NewImageInspector(log, false)
	s := NewServer(cfg, log, resolver, comp, insp)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	work := filepath.Join(base, "work")
	if err := os.MkdirAll(work, 0o755); err != nil {
		t.Fatalf("Failed to create work dir: %v", err)
	}
	return &testEnv{server: s, http: ts, work: work}
}

func (e *testEnv) writePNG(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(e.work, name)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 6, 4))); err != nil {
		t.Fatalf("Failed to encode png: %v", err)
	}
	return path
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) (int, APIResponse) {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Failed to marshal body: %v", err)
	}
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func (e *testEnv) get(t *testing.T, path string) (int, APIResponse) {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	return resp.StatusCode, decode(t, resp.Body)
}

func decode(t *testing.T, r io.Reader) APIResponse {
	t.Helper()
	var out APIResponse
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return out
}

func TestHandleCompress(t *testing.T) {
	env := newTestEnv(t)
	input := env.writePNG(t, "photo.png")

	status, resp := env.post(t, "/api/compress", CompressRequest{
		InputPath: input,
		Options:   &compressor.Options{Quality: compressor.Int(0)},
	})
	if status != http.StatusOK || !resp.Success {
		t.Fatalf("Expected success, got %d: %+v", status, resp)
	}

	data := resp.Data.(map[string]interface{})
	if data["outputFilepath"] != filepath.Join(env.work, "photo.webp") {
		t.Errorf("Unexpected output path: %v", data["outputFilepath"])
	}
	log, _ := data["log"].(string)
	if !strings.Contains(log, "arg:-q\narg:0\n") || !strings.Contains(log, "arg:-mt") {
		t.Errorf("Expected request and config options in encoder args, got %q", log)
	}
}

func TestHandleCompressErrors(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.post(t, "/api/compress", CompressRequest{InputPath: filepath.Join(env.work, "missing.png")})
	if status != http.StatusUnprocessableEntity || resp.Success {
		t.Fatalf("Expected 422, got %d: %+v", status, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["log"] == "" {
		t.Error("Expected encoder log in error response")
	}

	status, _ = env.post(t, "/api/compress", CompressRequest{})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing input, got %d", status)
	}

	status, _ = env.post(t, "/api/compress", CompressRequest{
		InputPath: "a.png",
		Options:   &compressor.Options{Preset: "portrait"},
	})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid preset, got %d", status)
	}

	resp2, err := http.Post(env.http.URL+"/api/compress", "application/json", strings.NewReader("{"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad JSON, got %d", resp2.StatusCode)
	}
}

func TestHandlePlatform(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.get(t, "/api/platform")
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	tools := resp.Data.(map[string]interface{})["tools"].(map[string]interface{})
	for _, name := range []string{"cwebp", "dwebp"} {
		tool, ok := tools[name].(map[string]interface{})
		if !ok || tool["present"] != true {
			t.Errorf("Expected %s to be present: %v", name, tools)
		}
	}
}

func TestHandleInspect(t *testing.T) {
	env := newTestEnv(t)
	input := env.writePNG(t, "a.png")

	status, resp := env.get(t, "/api/inspect?path="+url.QueryEscape(input))
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %+v", status, resp)
	}
	data := resp.Data.(map[string]interface{})
	if data["width"] != float64(6) || data["height"] != float64(4) {
		t.Errorf("Unexpected dimensions: %v", data)
	}

	status, _ = env.get(t, "/api/inspect?path="+url.QueryEscape(filepath.Join(env.work, "nope.png")))
	if status != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", status)
	}
	status, _ = env.get(t, "/api/inspect?path=notes.txt")
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", status)
	}
}

func TestHandleBatchWithWebSocket(t *testing.T) {
	env := newTestEnv(t)
	env.writePNG(t, "one.png")
	env.writePNG(t, "two.png")

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	defer conn.Close()
	waitForClients(t, env.server, 1)

	status, resp := env.post(t, "/api/batch", BatchRequest{Directory: env.work})
	if status != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d: %+v", status, resp)
	}
	jobID := resp.Data.(map[string]interface{})["job_id"].(string)

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	var logs int
	for {
		var msg WSMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("Failed to read message: %v", err)
		}
		if msg.JobID != jobID {
			t.Errorf("Unexpected job id %s, expected %s", msg.JobID, jobID)
		}
		if msg.Type == "log" {
			logs++
		}
		if msg.Type == "batch_error" {
			t.Fatalf("Batch failed: %v", msg.Data)
		}
		if msg.Type == "batch_completed" {
			break
		}
	}
	if logs != 2 {
		t.Errorf("Expected 2 log messages, got %d", logs)
	}

	for _, name := range []string{"one.webp", "two.webp"} {
		if _, err := os.Stat(filepath.Join(env.work, name)); err != nil {
			t.Errorf("Expected %s: %v", name, err)
		}
	}

	_, resp = env.get(t, "/api/statistics")
	snapshot := resp.Data.(map[string]interface{})["snapshot"].(map[string]interface{})
	if snapshot["files_compressed"] != float64(2) {
		t.Errorf("Unexpected statistics: %v", snapshot)
	}
}

func TestHandleBatchValidation(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.post(t, "/api/batch", BatchRequest{})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing directory, got %d", status)
	}
	status, _ = env.post(t, "/api/batch", BatchRequest{Directory: filepath.Join(env.work, "missing")})
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for nonexistent directory, got %d", status)
	}
}

func TestHandleStatusAndStop(t *testing.T) {
	env := newTestEnv(t)

	status, resp := env.get(t, "/api/status")
	if status != http.StatusOK || resp.Data.(map[string]interface{})["running"] != false {
		t.Errorf("Unexpected status: %d %+v", status, resp)
	}

	status, _ = env.post(t, "/api/stop", struct{}{})
	if status != http.StatusConflict {
		t.Errorf("Expected 409 when nothing is running, got %d", status)
	}
}

func TestHandleListDirectories(t *testing.T) {
	env := newTestEnv(t)
	env.writePNG(t, "a.png")
	if err := os.WriteFile(filepath.Join(env.work, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(env.work, "sub"), 0o755); err != nil {
		t.Fatalf("Failed to create dir: %v", err)
	}

	status, resp := env.get(t, "/api/directories?path="+url.QueryEscape(env.work))
	if status != http.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	entries := resp.Data.([]interface{})
	if len(entries) != 2 {
		t.Errorf("Expected png and subdirectory only, got %v", entries)
	}

	status, _ = env.get(t, "/api/directories?path=../etc")
	if status != http.StatusBadRequest {
		t.Errorf("Expected 400 for traversal, got %d", status)
	}
}

func waitForClients(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s.wsMutex.RLock()
		count := len(s.wsClients)
		s.wsMutex.RUnlock()
		if count >= n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %d websocket clients", n)
}
