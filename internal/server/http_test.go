package server

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"nhooyr.io/websocket"

	"github.com/habspeaker/habspeaker/internal/audio"
	"github.com/habspeaker/habspeaker/internal/broadcast"
	"github.com/habspeaker/habspeaker/internal/config"
	"github.com/habspeaker/habspeaker/internal/metrics"
	"github.com/habspeaker/habspeaker/internal/protocol"
	"github.com/habspeaker/habspeaker/internal/registry"
	"github.com/habspeaker/habspeaker/internal/sink"
	"github.com/habspeaker/habspeaker/internal/stream"
)

type testServer struct {
	url      string
	sink     *sink.Sink
	registry *registry.Registry
	sessions *stream.Manager
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config)) *testServer {
	t.Helper()

	cfg := config.Default()
	cfg.Speaker.Secure = true
	if mutate != nil {
		mutate(cfg)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	promReg := prometheus.NewRegistry()
	m := metrics.NewMetrics(promReg)

	reg := registry.New(cfg.Speaker, logger, m)
	sessions := stream.NewManager(logger)
	dispatcher := broadcast.NewDispatcher(reg, broadcast.Config{
		SendTimeout:  cfg.Broadcast.GetSendTimeout(),
		MaxSlowSends: cfg.Broadcast.MaxSlowSends,
	}, logger, m)

	s := sink.New(sink.Config{
		ID:    cfg.Speaker.ID,
		Label: cfg.Speaker.Label,
		Converter: audio.ConverterConfig{
			TargetSampleRate: cfg.Audio.TargetSampleRate,
			MaxChunkBytes:    cfg.Audio.MaxChunkBytes,
			ReadBlockBytes:   cfg.Audio.ReadBlockBytes,
			Resampler:        audio.ResamplerKind(cfg.Audio.Resampler),
		},
	}, reg, sessions, dispatcher, logger, m)
	s.Start()

	h := NewHTTPServer(cfg, logger, s, reg, sessions, m, promReg)
	srv := httptest.NewUnstartedServer(h.Handler())
	srv.Config = h.server
	srv.Start()
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
		dispatcher.Stop()
	})

	return &testServer{url: srv.URL, sink: s, registry: reg, sessions: sessions}
}

// wavBody returns a 16-bit mono WAV of n samples
func wavBody(rate, n int) []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	binary.Write(&b, binary.LittleEndian, uint32(36+2*n))
	b.WriteString("WAVEfmt ")
	binary.Write(&b, binary.LittleEndian, uint32(16))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint16(1))
	binary.Write(&b, binary.LittleEndian, uint32(rate))
	binary.Write(&b, binary.LittleEndian, uint32(rate*2))
	binary.Write(&b, binary.LittleEndian, uint16(2))
	binary.Write(&b, binary.LittleEndian, uint16(16))
	b.WriteString("data")
	binary.Write(&b, binary.LittleEndian, uint32(2*n))
	for i := 0; i < n; i++ {
		binary.Write(&b, binary.LittleEndian, int16(i%500))
	}
	return b.Bytes()
}

func postSink(t *testing.T, url, contentType string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url+"/habspeaker/sink", body)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	return resp
}

func TestConfigEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := http.Get(ts.url + ConfigPath)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if len(body) != 1 || body["secure"] != true {
		t.Errorf("Expected {\"secure\":true}, got %v", body)
	}

	ts.registry.UpdateConfig(config.SpeakerConfig{ID: "habspeaker", Secure: false})
	resp2, err := http.Get(ts.url + ConfigPath)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp2.Body.Close()
	body = nil
	json.NewDecoder(resp2.Body).Decode(&body)
	if body["secure"] != false {
		t.Errorf("Expected reloaded secure=false, got %v", body)
	}

	resp3, err := http.Post(ts.url+ConfigPath, "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp3.Body.Close()
	if resp3.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for POST, got %d", resp3.StatusCode)
	}
}

func TestSinkEndpoint(t *testing.T) {
	wav := wavBody(8000, 800)

	tests := []struct {
		name        string
		contentType string
		body        func() io.Reader
		expected    int
	}{
		{
			name:        "wav",
			contentType: "audio/wav",
			body:        func() io.Reader { return bytes.NewReader(wav) },
			expected:    http.StatusNoContent,
		},
		{
			name:        "x-wav with parameters",
			contentType: "audio/x-wav; charset=binary",
			body:        func() io.Reader { return bytes.NewReader(wav) },
			expected:    http.StatusNoContent,
		},
		{
			name:        "mp3",
			contentType: "audio/mpeg",
			body:        func() io.Reader { return bytes.NewReader(wav) },
			expected:    http.StatusUnsupportedMediaType,
		},
		{
			name:        "missing content type",
			contentType: "",
			body:        func() io.Reader { return bytes.NewReader(wav) },
			expected:    http.StatusUnsupportedMediaType,
		},
		{
			name:        "unknown length",
			contentType: "audio/wav",
			body:        func() io.Reader { return io.MultiReader(bytes.NewReader(wav)) },
			expected:    http.StatusUnsupportedMediaType,
		},
		{
			name:        "not a wav body",
			contentType: "audio/wav",
			body:        func() io.Reader { return strings.NewReader("this is not audio at all, just text") },
			expected:    http.StatusUnsupportedMediaType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			resp := postSink(t, ts.url, tt.contentType, tt.body())
			if resp.StatusCode != tt.expected {
				t.Errorf("Expected status %d, got %d", tt.expected, resp.StatusCode)
			}
		})
	}
}

func TestSinkEndpointStopped(t *testing.T) {
	ts := newTestServer(t, nil)
	if err := ts.sink.Stop(context.Background()); err != nil {
		t.Fatalf("Unexpected stop error: %v", err)
	}

	resp := postSink(t, ts.url, "audio/wav", bytes.NewReader(wavBody(8000, 10)))
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}

	get, err := http.Get(ts.url + "/habspeaker/sink")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", get.StatusCode)
	}
}

func TestFormatFromContentType(t *testing.T) {
	tests := []struct {
		contentType string
		expected    audio.Format
	}{
		{"audio/wav", audio.WAV},
		{"audio/x-wav", audio.WAV},
		{"AUDIO/WAVE", audio.WAV},
		{"audio/mpeg", audio.Format{Container: "MPEG"}},
		{"audio/ogg; codecs=opus", audio.Format{Container: "OGG"}},
		{"", audio.Format{Container: "UNKNOWN"}},
	}

	for _, tt := range tests {
		if got := formatFromContentType(tt.contentType); got != tt.expected {
			t.Errorf("formatFromContentType(%q) = %v, expected %v", tt.contentType, got, tt.expected)
		}
	}
}

func waitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

// trickleSink posts body through a pipe with its length declared up front and
// returns the pipe writer and a channel carrying the response status.
func trickleSink(t *testing.T, url string, size int) (*io.PipeWriter, <-chan int) {
	t.Helper()
	pr, pw := io.Pipe()
	req, err := http.NewRequest(http.MethodPost, url+"/habspeaker/sink", pr)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.ContentLength = int64(size)

	status := make(chan int, 1)
	go func() {
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			status <- 0
			return
		}
		resp.Body.Close()
		status <- resp.StatusCode
	}()
	return pw, status
}

func TestSinkEndpointOutlivesReadTimeout(t *testing.T) {
	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Server.ReadTimeout = 1
		cfg.Audio.TargetSampleRate = 8000
	})

	wav := wavBody(8000, 8000)
	pw, status := trickleSink(t, ts.url, len(wav))

	// Deliver the body over well past the header timeout.
	const pieces = 10
	step := (len(wav) + pieces - 1) / pieces
	for off := 0; off < len(wav); off += step {
		end := off + step
		if end > len(wav) {
			end = len(wav)
		}
		if _, err := pw.Write(wav[off:end]); err != nil {
			t.Fatalf("Write at %d failed: %v", off, err)
		}
		time.Sleep(250 * time.Millisecond)
	}
	pw.Close()

	select {
	case code := <-status:
		if code != http.StatusNoContent {
			t.Fatalf("Expected 204, got %d", code)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Request did not complete")
	}

	stats := ts.sessions.GetStats()
	if stats.CompletedSessions != 1 || stats.FailedSessions != 0 {
		t.Errorf("Expected 1 completed and 0 failed sessions, got %+v", stats)
	}
	if stats.TotalBytes != 16000 {
		t.Errorf("Expected 16000 bytes played, got %d", stats.TotalBytes)
	}
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	wav := wavBody(8000, 4000)
	pw, status := trickleSink(t, ts.url, len(wav))
	defer func() {
		pw.Close()
		<-status
	}()

	if _, err := pw.Write(wav[:1044]); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if !waitFor(2*time.Second, func() bool { return len(ts.sessions.GetAllSessions()) == 1 }) {
		t.Fatal("Session never became active")
	}
	activeID := ts.sessions.GetAllSessions()[0].ID

	getJSON := func(path string) (int, map[string]interface{}) {
		resp, err := http.Get(ts.url + path)
		if err != nil {
			t.Fatalf("Request failed: %v", err)
		}
		defer resp.Body.Close()
		var body map[string]interface{}
		if resp.StatusCode == http.StatusOK {
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("Failed to decode %s: %v", path, err)
			}
		}
		return resp.StatusCode, body
	}

	code, stats := getJSON("/stats")
	if code != http.StatusOK || stats["active_session"] != activeID {
		t.Errorf("Expected active_session %s, got %d %v", activeID, code, stats["active_session"])
	}

	code, detail := getJSON("/sessions/" + activeID)
	if code != http.StatusOK {
		t.Fatalf("Expected 200 for active session, got %d", code)
	}
	if detail["id"] != activeID || detail["format"] == "" {
		t.Errorf("Unexpected session detail: %v", detail)
	}

	tests := []struct {
		path     string
		expected int
	}{
		{path: "/sessions/", expected: http.StatusBadRequest},
		{path: "/sessions/not-a-uuid", expected: http.StatusBadRequest},
		{path: "/sessions/" + strings.Repeat("ab", protocol.SessionIDSize), expected: http.StatusNotFound},
	}
	for _, tt := range tests {
		if code, _ := getJSON(tt.path); code != tt.expected {
			t.Errorf("%s: expected %d, got %d", tt.path, tt.expected, code)
		}
	}
}

func TestWebSocketReceivesSession(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := uuid.New()
	wsURL := "ws" + strings.TrimPrefix(ts.url, "http") + "/habspeaker/ws?id=" + id.String() + "&label=kitchen"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if !waitFor(2*time.Second, func() bool { return ts.registry.Count() == 1 }) {
		t.Fatal("Speaker was not registered")
	}
	client, ok := ts.registry.Get(id)
	if !ok || client.Label != "kitchen" {
		t.Fatalf("Expected client %s labelled kitchen", id)
	}

	// 8 kHz to 16 kHz doubles the sample count.
	if resp := postSink(t, ts.url, "audio/wav", bytes.NewReader(wavBody(8000, 4000))); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("Expected 204, got %d", resp.StatusCode)
	}

	var session protocol.SessionID
	samples := 0
	for samples < 8000 {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("Read failed after %d samples: %v", samples, err)
		}
		if typ != websocket.MessageBinary {
			t.Fatalf("Expected binary message, got %v", typ)
		}
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			t.Fatalf("Invalid frame: %v", err)
		}
		if samples == 0 {
			session = frame.Session
		} else if frame.Session != session {
			t.Fatalf("Session id changed mid-stream: %s vs %s", frame.Session, session)
		}
		samples += len(frame.Payload) / 2
	}
	if samples != 8000 {
		t.Errorf("Expected 8000 samples, got %d", samples)
	}

	conn.Close(websocket.StatusNormalClosure, "")
	if !waitFor(2*time.Second, func() bool { return ts.registry.Count() == 0 }) {
		t.Error("Speaker was not unregistered after closing")
	}
}

func TestWebSocketInvalidID(t *testing.T) {
	ts := newTestServer(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.url, "http")+"/habspeaker/ws?id=not-a-uuid", nil)
	if err != nil {
		t.Fatalf("Failed to dial websocket: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if !waitFor(2*time.Second, func() bool { return ts.registry.Count() == 1 }) {
		t.Fatal("Speaker was not registered")
	}
	if ts.registry.Snapshot()[0].ID == uuid.Nil {
		t.Error("Expected a generated client id")
	}
}

func TestStaticResources(t *testing.T) {
	const script = "console.log('habspeaker');"
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte(script), 0o644); err != nil {
		t.Fatalf("Failed to write resource: %v", err)
	}

	var compressed bytes.Buffer
	zw := gzip.NewWriter(&compressed)
	zw.Write([]byte(script))
	zw.Close()
	if err := os.WriteFile(filepath.Join(dir, "app.js.gz"), compressed.Bytes(), 0o644); err != nil {
		t.Fatalf("Failed to write resource: %v", err)
	}

	ts := newTestServer(t, func(cfg *config.Config) {
		cfg.Web.ResourcesBase = dir
		cfg.Web.Gzip = true
	})

	tests := []struct {
		name           string
		acceptEncoding string
		gzipped        bool
	}{
		{name: "gzip accepted", acceptEncoding: "gzip, deflate", gzipped: true},
		{name: "gzip refused", acceptEncoding: "gzip;q=0, identity", gzipped: false},
		{name: "identity", acceptEncoding: "identity", gzipped: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.url+"/habspeaker/app.js", nil)
			req.Header.Set("Accept-Encoding", tt.acceptEncoding)

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			if !strings.Contains(resp.Header.Get("Content-Type"), "javascript") {
				t.Errorf("Unexpected content type %q", resp.Header.Get("Content-Type"))
			}

			var body io.Reader = resp.Body
			if tt.gzipped {
				if resp.Header.Get("Content-Encoding") != "gzip" {
					t.Fatalf("Expected gzip encoding, got %q", resp.Header.Get("Content-Encoding"))
				}
				zr, err := gzip.NewReader(resp.Body)
				if err != nil {
					t.Fatalf("Invalid gzip body: %v", err)
				}
				body = zr
			} else if resp.Header.Get("Content-Encoding") != "" {
				t.Fatalf("Expected no encoding, got %q", resp.Header.Get("Content-Encoding"))
			}

			data, _ := io.ReadAll(body)
			if string(data) != script {
				t.Errorf("Expected %q, got %q", script, data)
			}
		})
	}
}

func TestMonitoringEndpoints(t *testing.T) {
	ts := newTestServer(t, nil)

	tests := []struct {
		path     string
		contains string
	}{
		{path: "/health", contains: `"status":"healthy"`},
		{path: "/stats", contains: `"active_session":null`},
		{path: "/", contains: `"service":"habspeaker"`},
		{path: "/metrics", contains: "habspeaker_http_requests_total"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			resp, err := http.Get(ts.url + tt.path)
			if err != nil {
				t.Fatalf("Request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				t.Fatalf("Expected 200, got %d", resp.StatusCode)
			}
			data, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(data), tt.contains) {
				t.Errorf("Expected body to contain %s, got %s", tt.contains, data)
			}
		})
	}

	resp, err := http.Get(ts.url + "/missing")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header   string
		expected bool
	}{
		{"gzip", true},
		{"deflate, gzip;q=0.5", true},
		{"GZIP", true},
		{"*", true},
		{"gzip;q=0", false},
		{"identity", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := acceptsGzip(tt.header); got != tt.expected {
			t.Errorf("acceptsGzip(%q) = %v, expected %v", tt.header, got, tt.expected)
		}
	}
}
