package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/lyzno1/medical-case-report/internal/coze"
	"github.com/lyzno1/medical-case-report/internal/logging"
	"github.com/lyzno1/medical-case-report/internal/retry"
)

var (
	// ErrNoFiles is returned when a request carries neither audio nor document.
	ErrNoFiles = &ValidationError{Message: "请至少上传一个文件"}

	// ErrNoFileID is returned by RunForFile without a file id.
	ErrNoFileID = &ValidationError{Kind: KindAudio, Message: "请提供文件ID"}

	// ErrEmptyReport is returned when the workflow yields blank text.
	ErrEmptyReport = errors.New("工作流返回了空的报告内容")
)

// Stages of report generation, used in StageError and metrics.
const (
	StageUploadDocument = "upload_document"
	StageUploadAudio    = "upload_audio"
	StageWorkflow       = "workflow"
)

const unknownFileName = "未知文件"

// Remote is the subset of the Coze client used by the service.
type Remote interface {
	UploadFile(ctx context.Context, f coze.File) (string, error)
	RunWorkflow(ctx context.Context, workflowID string, parameters map[string]any) (string, error)
}

// Recorder receives pipeline measurements.
type Recorder interface {
	RecordReportGenerated(duration time.Duration, length int)
	RecordReportFailure(stage string, duration time.Duration)
	RecordValidationError(kind string)
	RecordUpload(kind string, sizeBytes int64)
	RecordCozeRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) RecordReportGenerated(time.Duration, int) {}
func (nopRecorder) RecordReportFailure(string, time.Duration) {}
func (nopRecorder) RecordValidationError(string) {}
func (nopRecorder) RecordUpload(string, int64) {}
func (nopRecorder) RecordCozeRetry(string) {}

// Config contains report service configuration
type Config struct {
	WorkflowID string
	BotID      string
	SpaceID    string

	// AudioParam and DocParam are the workflow variable names.
	AudioParam string
	DocParam   string

	Limits Limits

	// Retry wraps every upload and workflow call. Its Logger and OnRetry
	// are set by the service.
	Retry retry.Policy

	// Now defaults to time.Now.
	Now func() time.Time
}

// Service generates case reports
type Service struct {
	config   Config
	remote   Remote
	logger   *slog.Logger
	recorder Recorder
}

// Upload is a file received from a caller.
type Upload struct {
	Name string
	Data []byte
}

// Size returns the upload length in bytes.
func (u Upload) Size() int64 {
	return int64(len(u.Data))
}

// Request selects the files of a report. At least one must be set.
type Request struct {
	Audio    *Upload
	Document *Upload
}

// FileRef describes a file that took part in a report.
type FileRef struct {
	Name   string
	Size   int64
	FileID string
}

// WorkflowInfo is the diagnostic context of a workflow run.
type WorkflowInfo struct {
	BotID          string
	SpaceID        string
	WorkflowID     string
	ParametersUsed []string
}

// Report is a generated case report.
type Report struct {
	ID          string
	Text        string
	DownloadURL string
	GeneratedAt time.Time
	Audio       *FileRef
	Document    *FileRef
	Workflow    WorkflowInfo
}

// UploadResult is the outcome of UploadAudio.
type UploadResult struct {
	FileID   string
	FileName string
	Size     int64
}

// TranscribeResult is the outcome of Transcribe. Err is set when the upload
// failed; Text is informational in both cases.
type TranscribeResult struct {
	Text   string
	FileID string
	Err    error
}

// StageError reports a remote failure at one stage of generation.
type StageError struct {
	Stage    string
	Kind     Kind
	Workflow WorkflowInfo
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// UploadLabel names the file class for user-facing upload failures.
func (e *StageError) UploadLabel() string {
	return e.Kind.uploadLabel()
}

// NewService creates a report service on top of remote
func NewService(config Config, remote Remote, logger *slog.Logger, recorder Recorder) (*Service, error) {
	if remote == nil {
		return nil, fmt.Errorf("remote client cannot be nil")
	}

	if config.WorkflowID == "" {
		return nil, fmt.Errorf("workflow id cannot be empty")
	}

	if config.AudioParam == "" || config.DocParam == "" {
		return nil, fmt.Errorf("workflow parameter names cannot be empty")
	}

	if config.Limits.Audio.MaxBytes == 0 && config.Limits.Document.MaxBytes == 0 {
		config.Limits = DefaultLimits()
	}

	if config.Now == nil {
		config.Now = time.Now
	}

	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Service{
		config:   config,
		remote:   remote,
		logger:   logger,
		recorder: recorder,
	}, nil
}

// Validate checks a file against the configured limits of kind.
func (s *Service) Validate(kind Kind, name string, size int64) error {
	if err := s.config.Limits.Validate(kind, name, size); err != nil {
		s.recorder.RecordValidationError(string(kind))
		return err
	}
	return nil
}

// WorkflowInfo returns the configured identifiers with the given parameter names.
func (s *Service) WorkflowInfo(parameters map[string]any) WorkflowInfo {
	names := make([]string, 0, len(parameters))
	for name := range parameters {
		names = append(names, name)
	}
	sort.Strings(names)

	return WorkflowInfo{
		BotID:          s.config.BotID,
		SpaceID:        s.config.SpaceID,
		WorkflowID:     s.config.WorkflowID,
		ParametersUsed: names,
	}
}

// Generate uploads the document and then the audio, runs the workflow over
// both and returns the report.
func (s *Service) Generate(ctx context.Context, req Request) (*Report, error) {
	if req.Audio == nil && req.Document == nil {
		s.recorder.RecordValidationError("none")
		return nil, ErrNoFiles
	}

	if req.Document != nil {
		if err := s.Validate(KindDocument, req.Document.Name, req.Document.Size()); err != nil {
			return nil, err
		}
	}
	if req.Audio != nil {
		if err := s.Validate(KindAudio, req.Audio.Name, req.Audio.Size()); err != nil {
			return nil, err
		}
	}

	logger := logging.FromContext(ctx, s.logger)
	startTime := s.config.Now()

	logger.Info("Generating report",
		slog.String("document", describe(req.Document)),
		slog.String("audio", describe(req.Audio)),
	)

	parameters := make(map[string]any)
	var audioRef, documentRef *FileRef

	if req.Document != nil {
		fileID, err := s.upload(ctx, KindDocument, *req.Document)
		if err != nil {
			s.recorder.RecordReportFailure(StageUploadDocument, s.config.Now().Sub(startTime))
			return nil, &StageError{Stage: StageUploadDocument, Kind: KindDocument, Err: err}
		}
		documentRef = &FileRef{Name: req.Document.Name, Size: req.Document.Size(), FileID: fileID}
		parameters[s.config.DocParam] = coze.FileParam(fileID)
	}

	if req.Audio != nil {
		fileID, err := s.upload(ctx, KindAudio, *req.Audio)
		if err != nil {
			s.recorder.RecordReportFailure(StageUploadAudio, s.config.Now().Sub(startTime))
			return nil, &StageError{Stage: StageUploadAudio, Kind: KindAudio, Err: err}
		}
		audioRef = &FileRef{Name: req.Audio.Name, Size: req.Audio.Size(), FileID: fileID}
		parameters[s.config.AudioParam] = coze.FileParam(fileID)
	}

	report, err := s.run(ctx, parameters, startTime)
	if err != nil {
		return nil, err
	}
	report.Audio = audioRef
	report.Document = documentRef

	return report, nil
}

// UploadAudio validates and uploads a single audio file.
func (s *Service) UploadAudio(ctx context.Context, u Upload) (*UploadResult, error) {
	if err := s.Validate(KindAudio, u.Name, u.Size()); err != nil {
		return nil, err
	}

	fileID, err := s.upload(ctx, KindAudio, u)
	if err != nil {
		return nil, &StageError{Stage: StageUploadAudio, Kind: KindAudio, Err: err}
	}

	return &UploadResult{FileID: fileID, FileName: u.Name, Size: u.Size()}, nil
}

// RunForFile runs the workflow over a previously uploaded audio file.
func (s *Service) RunForFile(ctx context.Context, fileID, fileName string) (*Report, error) {
	if strings.TrimSpace(fileID) == "" {
		return nil, ErrNoFileID
	}
	if fileName == "" {
		fileName = unknownFileName
	}

	parameters := map[string]any{
		s.config.AudioParam: coze.FileParam(fileID),
	}

	report, err := s.run(ctx, parameters, s.config.Now())
	if err != nil {
		return nil, err
	}
	report.Audio = &FileRef{Name: fileName, FileID: fileID}

	return report, nil
}

// Transcribe uploads an audio file once, without retry, and describes it.
func (s *Service) Transcribe(ctx context.Context, u Upload) TranscribeResult {
	logger := logging.FromContext(ctx, s.logger)

	fileID, err := s.remote.UploadFile(ctx, coze.File{Name: u.Name, Data: u.Data})
	if err != nil {
		logger.Error("Audio upload failed",
			slog.String("file_name", u.Name),
			slog.String("error", err.Error()),
		)
		return TranscribeResult{
			Text: fmt.Sprintf("音频文件: %s (%s KB)", u.Name, kilobytes(u.Size())),
			Err:  err,
		}
	}

	return TranscribeResult{
		Text:   fmt.Sprintf("音频文件已上传: %s (%s KB)", u.Name, kilobytes(u.Size())),
		FileID: fileID,
	}
}

func (s *Service) upload(ctx context.Context, kind Kind, u Upload) (string, error) {
	policy := s.policy(ctx, "upload "+string(kind), "upload file")

	fileID, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return s.remote.UploadFile(ctx, coze.File{Name: u.Name, Data: u.Data})
	})
	if err != nil {
		return "", err
	}

	s.recorder.RecordUpload(string(kind), u.Size())
	return fileID, nil
}

func (s *Service) run(ctx context.Context, parameters map[string]any, startTime time.Time) (*Report, error) {
	logger := logging.FromContext(ctx, s.logger)
	info := s.WorkflowInfo(parameters)
	policy := s.policy(ctx, "run workflow", "run workflow")

	text, err := retry.Do(ctx, policy, func(ctx context.Context) (string, error) {
		return s.remote.RunWorkflow(ctx, s.config.WorkflowID, parameters)
	})
	if err == nil && strings.TrimSpace(text) == "" {
		err = ErrEmptyReport
	}
	if err != nil {
		s.recorder.RecordReportFailure(StageWorkflow, s.config.Now().Sub(startTime))
		return nil, &StageError{Stage: StageWorkflow, Workflow: info, Err: err}
	}

	generatedAt := s.config.Now()
	id := NewID(generatedAt)
	length := len([]rune(text))
	s.recorder.RecordReportGenerated(generatedAt.Sub(startTime), length)

	logger.Info("Report generated",
		slog.String("report_id", id),
		slog.Int("length", length),
		slog.Any("parameters", info.ParametersUsed),
	)

	return &Report{
		ID:          id,
		Text:        text,
		DownloadURL: DownloadURL(id, text),
		GeneratedAt: generatedAt,
		Workflow:    info,
	}, nil
}

// policy derives the retry policy of one operation from the configured one.
func (s *Service) policy(ctx context.Context, name, op string) retry.Policy {
	p := s.config.Retry
	p.Name = name
	p.Logger = logging.FromContext(ctx, s.logger)
	p.OnRetry = func(retry.Attempt) {
		s.recorder.RecordCozeRetry(op)
	}
	return p
}

func describe(u *Upload) string {
	if u == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s)", u.Name, FormatFileSize(u.Size()))
}
