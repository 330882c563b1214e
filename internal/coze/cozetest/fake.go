// Package cozetest provides an in-memory fake of the Coze upload and
// workflow endpoints for tests and local development.
package cozetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Upload is a file received by the fake.
type Upload struct {
	ID   string
	Name string
	Data []byte
}

// Run is a workflow request received by the fake.
type Run struct {
	WorkflowID string         `json:"workflow_id"`
	Parameters map[string]any `json:"parameters"`
	BotID      string         `json:"bot_id,omitempty"`
	Header     http.Header    `json:"-"`
}

// Fake implements POST /files/upload and POST /workflow/run.
type Fake struct {
	// APIKey, when set, is required as the bearer token.
	APIKey string

	mu sync.Mutex

	uploadFailures int
	uploadStatus   int
	uploadCode     int
	uploadMsg      string
	omitFileID     bool

	workflowFailures int
	workflowStatus   int
	workflowCode     int
	workflowMsg      string
	workflowData     json.RawMessage

	uploadAttempts   int
	workflowAttempts int
	uploads          []Upload
	runs             []Run
	nextID           int
}

// New returns a fake whose workflow echoes the received parameters.
func New() *Fake {
	return &Fake{}
}

// NewServer starts f on a test HTTP server.
func NewServer(f *Fake) *httptest.Server {
	return httptest.NewServer(f)
}

// FailUploads makes the next n upload requests answer with status.
func (f *Fake) FailUploads(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadFailures = n
	f.uploadStatus = status
}

// SetUploadError makes uploads answer 200 with a non-zero code.
func (f *Fake) SetUploadError(code int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploadCode = code
	f.uploadMsg = msg
}

// OmitFileID makes successful uploads return no file id.
func (f *Fake) OmitFileID(omit bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.omitFileID = omit
}

// FailWorkflows makes the next n workflow requests answer with status.
func (f *Fake) FailWorkflows(n, status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowFailures = n
	f.workflowStatus = status
}

// SetWorkflowError makes workflow runs answer 200 with a non-zero code.
func (f *Fake) SetWorkflowError(code int, msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowCode = code
	f.workflowMsg = msg
}

// SetWorkflowData fixes the data field returned by workflow runs.
func (f *Fake) SetWorkflowData(raw json.RawMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflowData = raw
}

// UploadAttempts returns the number of upload requests seen, failed ones included.
func (f *Fake) UploadAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploadAttempts
}

// WorkflowAttempts returns the number of workflow requests seen.
func (f *Fake) WorkflowAttempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workflowAttempts
}

// Uploads returns the successfully stored files in arrival order.
func (f *Fake) Uploads() []Upload {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Upload(nil), f.uploads...)
}

// Runs returns the accepted workflow requests in arrival order.
func (f *Fake) Runs() []Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Run(nil), f.runs...)
}

func (f *Fake) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if f.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+f.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"code": 4100,
			"msg":  "authentication is invalid",
		})
		return
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/files/upload"):
		f.handleUpload(w, r)
	case strings.HasSuffix(r.URL.Path, "/workflow/run"):
		f.handleWorkflow(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (f *Fake) handleUpload(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.uploadAttempts++
	if f.uploadFailures > 0 {
		f.uploadFailures--
		status := f.uploadStatus
		f.mu.Unlock()
		http.Error(w, "upstream unavailable", status)
		return
	}
	code, msg, omit := f.uploadCode, f.uploadMsg, f.omitFileID
	f.mu.Unlock()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 4000, "msg": "missing file field"})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading file", http.StatusInternalServerError)
		return
	}

	if code != 0 {
		writeJSON(w, http.StatusOK, map[string]any{"code": code, "msg": msg})
		return
	}

	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("f%d", f.nextID)
	f.uploads = append(f.uploads, Upload{ID: id, Name: header.Filename, Data: data})
	f.mu.Unlock()

	info := map[string]any{
		"file_name":  header.Filename,
		"bytes":      len(data),
		"created_at": time.Now().Unix(),
	}
	if !omit {
		info["id"] = id
	}
	writeJSON(w, http.StatusOK, map[string]any{"code": 0, "msg": "", "data": info})
}

func (f *Fake) handleWorkflow(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.workflowAttempts++
	if f.workflowFailures > 0 {
		f.workflowFailures--
		status := f.workflowStatus
		f.mu.Unlock()
		http.Error(w, "workflow unavailable", status)
		return
	}
	code, msg, data := f.workflowCode, f.workflowMsg, f.workflowData
	f.mu.Unlock()

	var run Run
	if err := json.NewDecoder(r.Body).Decode(&run); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"code": 4000, "msg": "invalid request body"})
		return
	}
	run.Header = r.Header.Clone()

	f.mu.Lock()
	f.runs = append(f.runs, run)
	f.mu.Unlock()

	if code != 0 {
		writeJSON(w, http.StatusOK, map[string]any{
			"code":      code,
			"msg":       msg,
			"debug_url": "https://www.coze.cn/work_flow?execute_id=debug",
		})
		return
	}

	if data == nil {
		data = echoReport(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"code":       0,
		"msg":        "",
		"data":       data,
		"execute_id": fmt.Sprintf("exec-%d", time.Now().UnixNano()),
	})
}

// echoReport builds a JSON-string payload describing the run.
func echoReport(run Run) json.RawMessage {
	var b strings.Builder
	b.WriteString("病例报告（模拟）\n")
	fmt.Fprintf(&b, "工作流: %s\n", run.WorkflowID)
	for name, value := range run.Parameters {
		fmt.Fprintf(&b, "%s = %v\n", name, value)
	}
	inner, _ := json.Marshal(map[string]string{"output": b.String()})
	outer, _ := json.Marshal(string(inner))
	return outer
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
