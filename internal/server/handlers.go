package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/lyzno1/medical-case-report/internal/errinfo"
	"github.com/lyzno1/medical-case-report/internal/logging"
	"github.com/lyzno1/medical-case-report/internal/report"
)

// Form field names of the multipart endpoints.
const (
	fieldDocument = "docx"
	fieldAudio    = "mp3"
	fieldClip     = "audio"
)

// multipartMemory is the part of a form kept in memory before spilling to disk.
const multipartMemory = 32 << 20

// fileInfo describes one processed upload.
type fileInfo struct {
	Name   string `json:"name"`
	Size   string `json:"size"`
	FileID string `json:"fileId"`
}

type filesProcessed struct {
	Docx *fileInfo `json:"docx"`
	MP3  *fileInfo `json:"mp3"`
}

type fileProcessed struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

type cozeInfo struct {
	BotID          string   `json:"botId"`
	SpaceID        string   `json:"spaceId"`
	WorkflowID     string   `json:"workflowId"`
	ParametersUsed []string `json:"parametersUsed"`
}

type reportMetadata struct {
	ReportID       string          `json:"reportId"`
	GeneratedAt    time.Time       `json:"generatedAt"`
	FilesProcessed *filesProcessed `json:"filesProcessed,omitempty"`
	FileProcessed  *fileProcessed  `json:"fileProcessed,omitempty"`
	CozeInfo       cozeInfo        `json:"cozeInfo"`
}

// reportResponse is the body of a successful generate-report or run-workflow call.
type reportResponse struct {
	Text     string         `json:"text"`
	DocURL   string         `json:"docUrl"`
	Metadata reportMetadata `json:"metadata"`
}

type uploadResponse struct {
	Success  bool   `json:"success"`
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
	FileSize string `json:"fileSize"`
}

type transcribeResponse struct {
	Text   string `json:"text"`
	FileID string `json:"fileId,omitempty"`
	Error  string `json:"error,omitempty"`
}

type runWorkflowRequest struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

func newReportResponse(rep *report.Report) reportResponse {
	params := rep.Workflow.ParametersUsed
	if params == nil {
		params = []string{}
	}

	return reportResponse{
		Text:   rep.Text,
		DocURL: rep.DownloadURL,
		Metadata: reportMetadata{
			ReportID:    rep.ID,
			GeneratedAt: rep.GeneratedAt.UTC(),
			CozeInfo: cozeInfo{
				BotID:          rep.Workflow.BotID,
				SpaceID:        rep.Workflow.SpaceID,
				WorkflowID:     rep.Workflow.WorkflowID,
				ParametersUsed: params,
			},
		},
	}
}

func newFileInfo(ref *report.FileRef) *fileInfo {
	if ref == nil {
		return nil
	}
	return &fileInfo{Name: ref.Name, Size: report.FormatFileSize(ref.Size), FileID: ref.FileID}
}

// handleGenerateReport implements POST /api/generate-report
func (h *HTTPServer) handleGenerateReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if !h.parseForm(w, r) {
		return
	}

	var req report.Request
	var err error
	if req.Document, err = formUpload(r, fieldDocument); err != nil {
		h.writeInternal(w, r, "读取上传文件失败", err)
		return
	}
	if req.Audio, err = formUpload(r, fieldAudio); err != nil {
		h.writeInternal(w, r, "读取上传文件失败", err)
		return
	}

	rep, err := h.service.Generate(r.Context(), req)
	if err != nil {
		h.writeReportError(w, r, "生成报告时发生内部错误", err)
		return
	}

	resp := newReportResponse(rep)
	resp.Metadata.FilesProcessed = &filesProcessed{
		Docx: newFileInfo(rep.Document),
		MP3:  newFileInfo(rep.Audio),
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUploadFile implements POST /api/upload-file
func (h *HTTPServer) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if !h.parseForm(w, r) {
		return
	}

	upload, err := formUpload(r, fieldAudio)
	if err != nil {
		h.writeInternal(w, r, "上传文件时发生内部错误", err)
		return
	}
	if upload == nil {
		writeJSON(w, http.StatusBadRequest, errinfo.Validation("请上传音频文件"))
		return
	}

	result, err := h.service.UploadAudio(r.Context(), *upload)
	if err != nil {
		h.writeReportError(w, r, "上传文件时发生内部错误", err)
		return
	}

	writeJSON(w, http.StatusOK, uploadResponse{
		Success:  true,
		FileID:   result.FileID,
		FileName: result.FileName,
		FileSize: report.FormatFileSize(result.Size),
	})
}

// handleRunWorkflow implements POST /api/run-workflow
func (h *HTTPServer) handleRunWorkflow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var body runWorkflowRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, errinfo.Validation("请求体必须是有效的 JSON"))
		return
	}

	rep, err := h.service.RunForFile(r.Context(), body.FileID, body.FileName)
	if err != nil {
		h.writeReportError(w, r, "运行工作流时发生内部错误", err)
		return
	}

	resp := newReportResponse(rep)
	resp.Metadata.FileProcessed = &fileProcessed{FileID: rep.Audio.FileID, FileName: rep.Audio.Name}
	writeJSON(w, http.StatusOK, resp)
}

// handleTranscribe implements POST /api/transcribe. Upload failures are
// reported in the body with status 200.
func (h *HTTPServer) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	if !h.parseForm(w, r) {
		return
	}

	upload, err := formUpload(r, fieldClip)
	if err != nil {
		h.writeInternal(w, r, "转录音频失败", err)
		return
	}
	if upload == nil {
		writeJSON(w, http.StatusBadRequest, errinfo.Validation("未提供音频文件"))
		return
	}

	result := h.service.Transcribe(r.Context(), *upload)
	resp := transcribeResponse{Text: result.Text, FileID: result.FileID}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleDownloadReport implements GET /api/download-report
func (h *HTTPServer) handleDownloadReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	query := r.URL.Query()
	content := query.Get("content")
	if content == "" {
		writeJSON(w, http.StatusBadRequest, errinfo.Validation("缺少报告内容"))
		return
	}

	now := h.now()
	id := query.Get("id")
	if id == "" {
		id = report.NewID(now)
	}

	doc := report.RenderDocument(content, id, now)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", report.ContentDisposition(id))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, doc)
}

// parseForm parses a multipart body, answering 400 when it is not one.
func (h *HTTPServer) parseForm(w http.ResponseWriter, r *http.Request) bool {
	limit := h.config.Upload.AudioMaxBytes() + h.config.Upload.DocumentMaxBytes() + 1<<20
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		logging.FromContext(r.Context(), h.logger).Warn("Invalid multipart request",
			slog.String("error", err.Error()),
		)

		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errinfo.Validation("上传内容过大"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errinfo.Validation("请求必须是 multipart/form-data 格式"))
		return false
	}
	return true
}

// formUpload reads the named file field, returning nil when it is absent.
func formUpload(r *http.Request, field string) (*report.Upload, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return readUpload(file, header)
}

func readUpload(file multipart.File, header *multipart.FileHeader) (*report.Upload, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}
	return &report.Upload{Name: header.Filename, Data: data}, nil
}

// writeReportError maps report service failures onto API error bodies.
func (h *HTTPServer) writeReportError(w http.ResponseWriter, r *http.Request, internalMsg string, err error) {
	logger := logging.FromContext(r.Context(), h.logger)

	var validation *report.ValidationError
	if errors.As(err, &validation) {
		logger.Info("Request rejected", slog.String("reason", validation.Message))
		writeJSON(w, http.StatusBadRequest, errinfo.Validation(validation.Message))
		return
	}

	var stageErr *report.StageError
	if errors.As(err, &stageErr) {
		logger.Error("Report stage failed",
			slog.String("stage", stageErr.Stage),
			slog.String("error", stageErr.Err.Error()),
		)

		if stageErr.Stage == report.StageWorkflow {
			params := stageErr.Workflow.ParametersUsed
			if params == nil {
				params = []string{}
			}
			writeJSON(w, http.StatusInternalServerError, errinfo.Workflow(stageErr.Err, errinfo.WorkflowDetails{
				BotID:      stageErr.Workflow.BotID,
				SpaceID:    stageErr.Workflow.SpaceID,
				WorkflowID: stageErr.Workflow.WorkflowID,
				Parameters: params,
			}))
			return
		}

		writeJSON(w, http.StatusInternalServerError, errinfo.Upload(stageErr.UploadLabel(), stageErr.Err))
		return
	}

	h.writeInternal(w, r, internalMsg, err)
}

func (h *HTTPServer) writeInternal(w http.ResponseWriter, r *http.Request, msg string, err error) {
	logging.FromContext(r.Context(), h.logger).Error(msg, slog.String("error", err.Error()))
	writeJSON(w, http.StatusInternalServerError, errinfo.Internal(msg, err))
}
