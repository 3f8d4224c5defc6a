package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appanalysis "github.com/bryanwahyu/medimage-analyzer/internal/application/analysis"
	appimages "github.com/bryanwahyu/medimage-analyzer/internal/application/images"
	appreport "github.com/bryanwahyu/medimage-analyzer/internal/application/report"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/ai/prompt"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/db/memory"
	"github.com/bryanwahyu/medimage-analyzer/internal/infra/storage"
	"github.com/bryanwahyu/medimage-analyzer/internal/metrics"
	"github.com/bryanwahyu/medimage-analyzer/internal/middleware"
	"github.com/bryanwahyu/medimage-analyzer/internal/realtime"
)

const (
	classifierID = "b1f3c1a4-5d2e-4c1b-9a57-0c3f7c1e2a01"
	token        = "test-token"
)

type server struct {
	*httptest.Server
	handler  http.Handler
	analyses *appanalysis.Service
}

func newServer(t *testing.T, cfg appanalysis.Config) *server {
	t.Helper()
	blobs, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)

	analysesRepo := memory.NewAnalysisRepository()
	imagesRepo := memory.NewImageRepository()
	modelsRepo := memory.NewModelRepository(time.Now())

	notifier := realtime.NewNotifier(realtime.NewRegistry(), nil)
	hub := realtime.NewHandler(notifier, nil)

	analyses := appanalysis.NewService(appanalysis.Deps{
		Analyses: analysesRepo,
		Images:   imagesRepo,
		Models:   modelsRepo,
		Notifier: notifier,
	}, cfg)
	imgs := appimages.NewService(imagesRepo, blobs, nil, nil, appimages.Config{
		MaxBytes:          1 << 20,
		AllowedExtensions: []string{".png", ".jpg", ".dcm"},
	})
	imgs.SetUsageChecker(analyses)
	reports := appreport.NewService(analysesRepo, modelsRepo, imagesRepo, prompt.Local{}, nil)

	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))

	h := NewRouter(Services{Analyses: analyses, Images: imgs, Reports: reports, Hub: hub}, Options{
		Credentials:    middleware.Credentials{Email: "test@example.com", Password: "password123", Token: token},
		CORSOrigins:    []string{"http://localhost:3000"},
		RateLimiter:    middleware.NewRateLimiter(1000, 1000),
		HealthChecks:   map[string]middleware.HealthChecker{"storage": middleware.CheckFunc(blobs.Ping)},
		Metrics:        promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		MaxUploadBytes: 1 << 20,
	})
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = analyses.Shutdown(ctx)
		srv.Close()
	})
	return &server{Server: srv, handler: h, analyses: analyses}
}

func quick() appanalysis.Config {
	return appanalysis.Config{MinDuration: 20 * time.Millisecond, MaxDuration: 20 * time.Millisecond, Seed: 3}
}

func slow() appanalysis.Config {
	return appanalysis.Config{MinDuration: time.Hour, MaxDuration: time.Hour, Seed: 3}
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 16, 8))))
	return buf.Bytes()
}

func (s *server) do(t *testing.T, method, path string, body io.Reader, header http.Header) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := s.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (s *server) postJSON(t *testing.T, path string, v any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	resp, data := s.do(t, http.MethodPost, path, bytes.NewReader(raw), http.Header{"Content-Type": {"application/json"}})
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp, out
}

func (s *server) upload(t *testing.T, filename string, content []byte) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, _ = fw.Write(content)
	require.NoError(t, mw.WriteField("user_id", "u1"))
	require.NoError(t, mw.WriteField("patient_id", "anon-1"))
	require.NoError(t, mw.Close())

	resp, data := s.do(t, http.MethodPost, "/api/v1/images/upload", &buf, http.Header{"Content-Type": {mw.FormDataContentType()}})
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out), string(data))
	return resp, out
}

func (s *server) startAnalysis(t *testing.T, imageID string) string {
	t.Helper()
	resp, body := s.postJSON(t, "/api/v1/analysis/start", map[string]string{"image_id": imageID, "model_id": classifierID})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["analysis_id"].(string)
}

func (s *server) getAnalysis(t *testing.T, id string) map[string]any {
	t.Helper()
	resp, data := s.do(t, http.MethodGet, "/api/v1/analysis/"+id, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func TestProbes(t *testing.T) {
	s := newServer(t, slow())
	for _, path := range []string{"/health", "/ready", "/live", "/"} {
		resp, _ := s.do(t, http.MethodGet, path, nil, nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestImages_UploadGetDownloadList(t *testing.T) {
	s := newServer(t, slow())
	data := pngBytes(t)

	resp, img := s.upload(t, "ct_chest.png", data)
	require.Equal(t, http.StatusOK, resp.StatusCode, img)
	assert.Equal(t, "Image uploaded successfully", img["message"])
	assert.Equal(t, "CT", img["modality"])
	assert.Equal(t, float64(16), img["width"])
	id := img["id"].(string)

	resp, raw := s.do(t, http.MethodGet, "/api/v1/images/"+id+"/download", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, data, raw)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "ct_chest.png")

	resp, raw = s.do(t, http.MethodGet, "/api/v1/images?modality=CT", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(raw, &list))
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0]["id"])

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/images/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/images/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestImages_UploadRejectsExtension(t *testing.T) {
	s := newServer(t, slow())
	resp, body := s.upload(t, "notes.txt", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.True(t, strings.HasPrefix(body["detail"].(string), "File type .txt not allowed"), body["detail"])
}

func TestImages_UploadTooLarge(t *testing.T) {
	s := newServer(t, slow())
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "huge.png")
	require.NoError(t, err)
	_, _ = fw.Write(bytes.Repeat([]byte{1}, 3<<20))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/images/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), "Maximum size")
}

func TestAnalysis_StartRunsToCompletion(t *testing.T) {
	s := newServer(t, quick())
	_, img := s.upload(t, "xray.png", pngBytes(t))

	resp, body := s.postJSON(t, "/api/v1/analysis/start", map[string]string{
		"image_id": img["id"].(string), "model_id": classifierID, "user_id": "dr-who",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	assert.Equal(t, "PENDING", body["status"])
	assert.Equal(t, "Analysis started successfully", body["message"])
	assert.Equal(t, float64(60), body["estimated_completion_time"])
	assert.Equal(t, "/ws/analysis/dr-who", body["websocket_url"])
	id := body["analysis_id"].(string)

	require.Eventually(t, func() bool {
		return s.getAnalysis(t, id)["status"] == "COMPLETE"
	}, 3*time.Second, 10*time.Millisecond)

	got := s.getAnalysis(t, id)
	assert.Equal(t, float64(100), got["progress_percentage"])
	assert.Equal(t, "Chest X-Ray Classifier", got["model_name"])
	assert.Equal(t, "xray.png", got["image_filename"])
	assert.NotNil(t, got["results"])

	resp, data := s.do(t, http.MethodGet, "/api/v1/analysis?user_id=dr-who&status=COMPLETE", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []map[string]any
	require.NoError(t, json.Unmarshal(data, &list))
	assert.Len(t, list, 1)

	// finished analyses cannot be cancelled
	resp, body = s.postJSON(t, "/api/v1/analysis/"+id+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode, body)

	// report requires the bearer token
	resp, _ = s.do(t, http.MethodPost, "/api/v1/analysis/"+id+"/report", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp, data = s.do(t, http.MethodPost, "/api/v1/analysis/"+id+"/report", nil,
		http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Contains(t, string(data), `"narrative"`)

	// image still referenced by an analysis
	resp, data = s.do(t, http.MethodDelete, "/api/v1/images/"+img["id"].(string), nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(data), "Cannot delete image with existing analysis results")

	resp, _ = s.do(t, http.MethodGet, "/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAnalysis_StartValidation(t *testing.T) {
	s := newServer(t, slow())
	_, img := s.upload(t, "scan.png", pngBytes(t))

	resp, body := s.postJSON(t, "/api/v1/analysis/start", map[string]string{"image_id": img["id"].(string), "model_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "AI Model nope not found", body["detail"])

	resp, body = s.postJSON(t, "/api/v1/analysis/start", map[string]string{"image_id": "missing", "model_id": classifierID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Image missing not found", body["detail"])

	resp, _ = s.postJSON(t, "/api/v1/analysis/start", map[string]string{"image_id": img["id"].(string), "model_id": classifierID, "priority": "asap"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/analysis/does-not-exist", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.do(t, http.MethodGet, "/api/v1/analysis?status=BOGUS", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAnalysis_Models(t *testing.T) {
	s := newServer(t, slow())
	resp, data := s.do(t, http.MethodGet, "/api/v1/analysis/models?active_only=true", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var models []map[string]any
	require.NoError(t, json.Unmarshal(data, &models))
	assert.Len(t, models, 3)
}

func TestAnalysis_CancelAndDelete(t *testing.T) {
	s := newServer(t, slow())
	_, img := s.upload(t, "scan.png", pngBytes(t))
	id := s.startAnalysis(t, img["id"].(string))

	resp, body := s.postJSON(t, "/api/v1/analysis/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	a := body["analysis"].(map[string]any)
	assert.Equal(t, "CANCELLED", a["status"])
	assert.Equal(t, "USER_CANCELLED", a["error_code"])

	resp, _ = s.do(t, http.MethodDelete, "/api/v1/analysis/"+id, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = s.do(t, http.MethodGet, "/api/v1/analysis/"+id, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLogin(t *testing.T) {
	s := newServer(t, slow())
	resp, body := s.postJSON(t, "/api/v1/login/token", map[string]string{"email": "test@example.com", "password": "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, token, body["access_token"])
}

func wsURL(s *server, path string) string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + path
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readUntil reads frames until match accepts one.
func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

// registered waits until the server has registered conn.
func registered(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "status"}))
	readUntil(t, conn, ofType("status_response"))
}

func ofType(typ string) func(map[string]any) bool {
	return func(m map[string]any) bool { return m["type"] == typ }
}

func TestWebSocket_SubscribeAndReceiveUpdates(t *testing.T) {
	s := newServer(t, slow())
	_, img := s.upload(t, "scan.png", pngBytes(t))

	conn := dial(t, wsURL(s, "/ws/analysis/viewer-1"))
	registered(t, conn)

	id := s.startAnalysis(t, img["id"].(string))
	announced := readUntil(t, conn, ofType("new_analysis_started"))
	assert.Equal(t, id, announced["analysis_id"])

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "subscribe", "analysis_id": id}))
	confirmed := readUntil(t, conn, ofType("subscription_confirmed"))
	assert.Equal(t, id, confirmed["analysis_id"])

	resp, _ := s.postJSON(t, "/api/v1/analysis/"+id+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	update := readUntil(t, conn, func(m map[string]any) bool {
		if m["type"] != "analysis_update" {
			return false
		}
		return m["data"].(map[string]any)["status"] == "CANCELLED"
	})
	assert.Equal(t, id, update["analysis_id"])
	assert.Equal(t, "USER_CANCELLED", update["data"].(map[string]any)["error_code"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping", "timestamp": 42}))
	pong := readUntil(t, conn, ofType("pong"))
	assert.Equal(t, float64(42), pong["timestamp"])
}

func TestWebSocket_AutoSubscribe(t *testing.T) {
	s := newServer(t, slow())
	conn := dial(t, wsURL(s, "/ws/analysis/viewer-2?analysis_id=an-1"))
	msg := readUntil(t, conn, ofType("subscription_confirmed"))
	assert.Equal(t, "an-1", msg["analysis_id"])
	assert.Equal(t, "viewer-2", msg["client_id"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	msg = readUntil(t, conn, ofType("error"))
	assert.Equal(t, "Invalid JSON format", msg["message"])

	// connection survives bad input
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "status"}))
	msg = readUntil(t, conn, ofType("status_response"))
	stats := msg["connection_stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_connections"])
}

func TestWebSocket_AdminBroadcast(t *testing.T) {
	s := newServer(t, slow())

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(s, "/ws/broadcast"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	viewer := dial(t, wsURL(s, "/ws/analysis/viewer-3"))
	registered(t, viewer)

	admin := dial(t, wsURL(s, "/ws/broadcast?token="+token))
	require.NoError(t, admin.WriteJSON(map[string]string{"type": "maintenance", "content": "restart at 5"}))

	ack := readUntil(t, admin, func(m map[string]any) bool { return m["status"] != nil || m["error"] != nil })
	assert.Equal(t, "broadcast_sent", ack["status"])
	assert.Equal(t, float64(1), ack["recipients"])

	got := readUntil(t, viewer, ofType("broadcast"))
	assert.Equal(t, "maintenance", got["message_type"])
	assert.Equal(t, "restart at 5", got["content"])

	require.NoError(t, admin.WriteJSON(map[string]string{"type": "only-type"}))
	bad := readUntil(t, admin, func(m map[string]any) bool { return m["error"] != nil })
	assert.Equal(t, "Invalid message format. Required: type, content", bad["error"])
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, statusFor(io.ErrUnexpectedEOF))
	assert.Equal(t, "internal server error", detail(io.ErrUnexpectedEOF))
}
