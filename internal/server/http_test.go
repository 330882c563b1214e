package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lyzno1/medical-case-report/internal/app"
	"github.com/lyzno1/medical-case-report/internal/config"
	"github.com/lyzno1/medical-case-report/internal/coze/cozetest"
	"github.com/lyzno1/medical-case-report/internal/errinfo"
	"github.com/lyzno1/medical-case-report/internal/logging"
	"github.com/lyzno1/medical-case-report/internal/retry"
)

type testServer struct {
	server  *HTTPServer
	handler http.Handler
	fake    *cozetest.Fake
	config  *config.Config
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	fake := cozetest.New()
	remote := cozetest.NewServer(fake)
	t.Cleanup(remote.Close)

	cfg := config.Default()
	cfg.Coze.BaseURL = remote.URL
	cfg.Coze.APIKey = "pat_test_key_1234567890"
	cfg.Coze.BotID = "7507807163864219688"
	cfg.Coze.SpaceID = "7456006999663345718"
	cfg.Coze.WorkflowID = "7507431636469776421"

	logger := logging.Discard()
	policy := retry.DefaultPolicy(logger)
	policy.Sleep = func(context.Context, time.Duration) error { return nil }

	reg := prometheus.NewRegistry()
	a, err := app.New(cfg, logger, app.Options{Registerer: reg, Retry: &policy})
	if err != nil {
		t.Fatalf("Failed to build app: %v", err)
	}

	srv := NewHTTPServer(cfg, logger, a.Service, a.Client, a.Metrics, reg)
	srv.now = func() time.Time { return time.Date(2025, 6, 1, 8, 30, 0, 0, time.Local) }

	return &testServer{server: srv, handler: srv.Handler(), fake: fake, config: cfg}
}

type formFile struct {
	field string
	name  string
	data  []byte
}

func multipartRequest(t *testing.T, path string, files ...formFile) *http.Request {
	t.Helper()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("Failed to create form file: %v", err)
		}
		part.Write(f.data)
	}
	writer.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func (ts *testServer) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("Failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func TestGenerateReport(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.SetWorkflowData(json.RawMessage(`{"output":"诊断：上呼吸道感染"}`))

	rec := ts.do(multipartRequest(t, "/api/generate-report",
		formFile{field: "mp3", name: "visit.mp3", data: []byte("audio")},
	))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected generated request id")
	}

	var resp struct {
		Text     string `json:"text"`
		DocURL   string `json:"docUrl"`
		Metadata struct {
			ReportID       string `json:"reportId"`
			FilesProcessed struct {
				Docx *fileInfo `json:"docx"`
				MP3  *fileInfo `json:"mp3"`
			} `json:"filesProcessed"`
			CozeInfo cozeInfo `json:"cozeInfo"`
		} `json:"metadata"`
	}
	decodeBody(t, rec, &resp)

	if resp.Text != "诊断：上呼吸道感染" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if !strings.HasPrefix(resp.DocURL, "/api/download-report?id="+resp.Metadata.ReportID+"&content=") {
		t.Errorf("Unexpected docUrl: %s", resp.DocURL)
	}
	if resp.Metadata.FilesProcessed.Docx != nil {
		t.Errorf("Expected null docx, got %+v", resp.Metadata.FilesProcessed.Docx)
	}
	mp3 := resp.Metadata.FilesProcessed.MP3
	if mp3 == nil || mp3.FileID != "f1" || mp3.Name != "visit.mp3" || mp3.Size != "5 Bytes" {
		t.Errorf("Unexpected mp3 info: %+v", mp3)
	}
	if resp.Metadata.CozeInfo.BotID != "7507807163864219688" {
		t.Errorf("Unexpected coze info: %+v", resp.Metadata.CozeInfo)
	}
	if got := strings.Join(resp.Metadata.CozeInfo.ParametersUsed, ","); got != "BLaudio" {
		t.Errorf("Expected BLaudio parameter, got %s", got)
	}

	runs := ts.fake.Runs()
	if len(runs) != 1 || runs[0].BotID != "7507807163864219688" {
		t.Errorf("Expected one run with bot id, got %+v", runs)
	}
}

func TestGenerateReportErrors(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(*cozetest.Fake)
		files       []formFile
		wantStatus  int
		wantError   string
		wantSuggest string
	}{
		{
			name:       "no files",
			wantStatus: http.StatusBadRequest,
			wantError:  "请至少上传一个文件",
		},
		{
			name:       "bad document extension",
			files:      []formFile{{field: "docx", name: "notes.txt", data: []byte("x")}},
			wantStatus: http.StatusBadRequest,
			wantError:  "DOCX 文件格式不正确，请上传 .docx 或 .doc 文件",
		},
		{
			name:        "audio upload fails",
			setup:       func(f *cozetest.Fake) { f.FailUploads(10, http.StatusInternalServerError) },
			files:       []formFile{{field: "mp3", name: "a.mp3", data: []byte("x")}},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "MP3 文件上传失败: ",
			wantSuggest: errinfo.SuggestCheckFile,
		},
		{
			name:        "document upload fails",
			setup:       func(f *cozetest.Fake) { f.SetUploadError(4001, "unsupported file") },
			files:       []formFile{{field: "docx", name: "a.docx", data: []byte("x")}},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "DOCX 文件上传失败: ",
			wantSuggest: errinfo.SuggestCheckFile,
		},
		{
			name:        "workflow fails",
			setup:       func(f *cozetest.Fake) { f.SetWorkflowError(4200, "workflow not found") },
			files:       []formFile{{field: "mp3", name: "a.mp3", data: []byte("x")}},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "报告生成失败: ",
			wantSuggest: errinfo.SuggestCheckWorkflow,
		},
		{
			name:        "empty report",
			setup:       func(f *cozetest.Fake) { f.SetWorkflowData(json.RawMessage(`""`)) },
			files:       []formFile{{field: "mp3", name: "a.mp3", data: []byte("x")}},
			wantStatus:  http.StatusInternalServerError,
			wantError:   "报告生成失败: 工作流返回了空的报告内容",
			wantSuggest: errinfo.SuggestCheckWorkflow,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			if tt.setup != nil {
				tt.setup(ts.fake)
			}

			rec := ts.do(multipartRequest(t, "/api/generate-report", tt.files...))
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}

			var payload errinfo.Payload
			decodeBody(t, rec, &payload)
			if !strings.HasPrefix(payload.Error, tt.wantError) {
				t.Errorf("Expected error starting with %q, got %q", tt.wantError, payload.Error)
			}
			if payload.Suggestion != tt.wantSuggest {
				t.Errorf("Expected suggestion %q, got %q", tt.wantSuggest, payload.Suggestion)
			}
		})
	}
}

func TestGenerateReportUploadRetries(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.FailUploads(10, http.StatusInternalServerError)

	ts.do(multipartRequest(t, "/api/generate-report",
		formFile{field: "mp3", name: "a.mp3", data: []byte("x")},
	))

	if got := ts.fake.UploadAttempts(); got != 4 {
		t.Errorf("Expected 4 upload attempts, got %d", got)
	}
}

func TestWorkflowErrorDetails(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.SetWorkflowError(4200, "workflow not found")

	rec := ts.do(multipartRequest(t, "/api/generate-report",
		formFile{field: "docx", name: "a.docx", data: []byte("x")},
		formFile{field: "mp3", name: "a.mp3", data: []byte("y")},
	))

	var payload struct {
		Details errinfo.WorkflowDetails `json:"details"`
	}
	decodeBody(t, rec, &payload)

	if payload.Details.WorkflowID != "7507431636469776421" {
		t.Errorf("Expected workflow id in details, got %+v", payload.Details)
	}
	if got := strings.Join(payload.Details.Parameters, ","); got != "BLaudio,BLdoc" {
		t.Errorf("Expected both parameters, got %s", got)
	}
}

func TestGenerateReportRequestShape(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/generate-report", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405 for GET, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/generate-report", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec = ts.do(req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for JSON body, got %d", rec.Code)
	}
}

func TestUploadFile(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/api/upload-file",
		formFile{field: "mp3", name: "visit.wav", data: make([]byte, 1536)},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp uploadResponse
	decodeBody(t, rec, &resp)
	if !resp.Success || resp.FileID != "f1" || resp.FileName != "visit.wav" || resp.FileSize != "1.5 KB" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	rec = ts.do(multipartRequest(t, "/api/upload-file"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 without file, got %d", rec.Code)
	}
	var payload errinfo.Payload
	decodeBody(t, rec, &payload)
	if payload.Error != "请上传音频文件" {
		t.Errorf("Unexpected error: %q", payload.Error)
	}
}

func TestRunWorkflow(t *testing.T) {
	ts := newTestServer(t)
	ts.fake.SetWorkflowData(json.RawMessage(`"随访报告"`))

	req := httptest.NewRequest(http.MethodPost, "/api/run-workflow",
		strings.NewReader(`{"fileId":"f7","fileName":"visit.mp3"}`))
	rec := ts.do(req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Text     string `json:"text"`
		Metadata struct {
			FileProcessed fileProcessed `json:"fileProcessed"`
		} `json:"metadata"`
	}
	decodeBody(t, rec, &resp)
	if resp.Text != "随访报告" {
		t.Errorf("Unexpected text: %q", resp.Text)
	}
	if resp.Metadata.FileProcessed.FileID != "f7" || resp.Metadata.FileProcessed.FileName != "visit.mp3" {
		t.Errorf("Unexpected file info: %+v", resp.Metadata.FileProcessed)
	}
	if got := ts.fake.Runs()[0].Parameters["BLaudio"]; got != `{"file_id":"f7"}` {
		t.Errorf("Unexpected parameter: %v", got)
	}

	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing file id", `{"fileName":"x.mp3"}`, "请提供文件ID"},
		{"invalid json", `{`, "请求体必须是有效的 JSON"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := ts.do(httptest.NewRequest(http.MethodPost, "/api/run-workflow", strings.NewReader(tt.body)))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d", rec.Code)
			}
			var payload errinfo.Payload
			decodeBody(t, rec, &payload)
			if payload.Error != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, payload.Error)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(multipartRequest(t, "/api/transcribe",
		formFile{field: "audio", name: "clip.webm", data: make([]byte, 1024)},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	var resp transcribeResponse
	decodeBody(t, rec, &resp)
	if resp.Text != "音频文件已上传: clip.webm (1.00 KB)" || resp.FileID != "f1" || resp.Error != "" {
		t.Errorf("Unexpected response: %+v", resp)
	}

	ts.fake.FailUploads(1, http.StatusBadGateway)
	rec = ts.do(multipartRequest(t, "/api/transcribe",
		formFile{field: "audio", name: "clip.webm", data: make([]byte, 1024)},
	))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on upload failure, got %d", rec.Code)
	}
	resp = transcribeResponse{}
	decodeBody(t, rec, &resp)
	if resp.Text != "音频文件: clip.webm (1.00 KB)" || resp.Error == "" {
		t.Errorf("Unexpected failure response: %+v", resp)
	}

	rec = ts.do(multipartRequest(t, "/api/transcribe"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without audio, got %d", rec.Code)
	}
}

func TestDownloadReport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet,
		"/api/download-report?id=1717&content=%E8%AF%8A%E6%96%AD%EF%BC%9A%E6%84%9F%E5%86%92%20%E5%8F%91%E7%83%AD", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/plain; charset=utf-8" {
		t.Errorf("Unexpected content type: %s", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, `filename="medical_report_1717.txt"`) {
		t.Errorf("Unexpected content disposition: %s", cd)
	}

	want := "病例报告\n\n诊断：感冒 发热\n\n生成时间: 2025/6/1 08:30:00\n生成ID: 1717\n"
	if rec.Body.String() != want {
		t.Errorf("Expected %q, got %q", want, rec.Body.String())
	}
	if rec.Header().Get("Content-Length") != strconv.Itoa(len(want)) {
		t.Errorf("Unexpected content length: %s", rec.Header().Get("Content-Length"))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/download-report?id=1", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without content, got %d", rec.Code)
	}
}

func TestDownloadReportDefaultID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/download-report?content=abc", nil))
	id := strings.TrimSuffix(strings.SplitAfter(rec.Body.String(), "生成ID: ")[1], "\n")
	if id != strconv.FormatInt(ts.server.now().UnixMilli(), 10) {
		t.Errorf("Expected timestamp id, got %q", id)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var resp struct {
		Status   string `json:"status"`
		Version  string `json:"version"`
		Services struct {
			Coze struct {
				Configured bool   `json:"configured"`
				BaseURL    string `json:"baseUrl"`
			} `json:"coze"`
		} `json:"services"`
	}
	decodeBody(t, rec, &resp)

	if resp.Status != "healthy" || resp.Version != serviceVersion {
		t.Errorf("Unexpected health: %+v", resp)
	}
	if !resp.Services.Coze.Configured {
		t.Error("Expected coze to be configured")
	}
	if resp.Services.Coze.BaseURL != ts.config.Coze.BaseURL {
		t.Errorf("Expected base URL %s, got %s", ts.config.Coze.BaseURL, resp.Services.Coze.BaseURL)
	}
}

func TestConfigEndpointRedactsKey(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/config", nil))
	if strings.Contains(rec.Body.String(), ts.config.Coze.APIKey) {
		t.Error("Expected API key to be redacted")
	}
	if !strings.Contains(rec.Body.String(), "pat_test_k...") {
		t.Errorf("Expected key prefix, got %s", rec.Body.String())
	}
}

func TestTestCoze(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/api/test-coze", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Status string            `json:"status"`
		URLs   map[string]string `json:"urls"`
	}
	decodeBody(t, rec, &resp)
	if resp.Status != "success" {
		t.Errorf("Expected success, got %s", resp.Status)
	}
	if resp.URLs["workflowRun"] != ts.config.Coze.BaseURL+"/workflow/run" {
		t.Errorf("Unexpected workflow URL: %s", resp.URLs["workflowRun"])
	}

	ts.config.Coze.WorkflowID = ""
	rec = ts.do(httptest.NewRequest(http.MethodGet, "/api/test-coze", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500 for incomplete config, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "troubleshooting") {
		t.Errorf("Expected troubleshooting hints, got %s", rec.Body.String())
	}
}

func TestRootAndNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/api/generate-report") {
		t.Errorf("Unexpected root response: %d %s", rec.Code, rec.Body.String())
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}
}

func TestRequestIDAndMetrics(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "req-42")
	rec := ts.do(req)
	if rec.Header().Get(RequestIDHeader) != "req-42" {
		t.Errorf("Expected request id to be echoed, got %q", rec.Header().Get(RequestIDHeader))
	}

	rec = ts.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `case_report_http_requests_total{endpoint="/health",method="GET",status_code="200"} 1`) {
		t.Errorf("Expected recorded request in metrics, got:\n%s", body)
	}
}

func TestStopCancelsBaseContext(t *testing.T) {
	ts := newTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := ts.server.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if ts.server.baseCtx.Err() == nil {
		t.Error("Expected base context to be cancelled")
	}
}
