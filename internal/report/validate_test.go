package report

import (
	"errors"
	"testing"
)

func TestLimitsValidate(t *testing.T) {
	limits := DefaultLimits()

	tests := []struct {
		name    string
		kind    Kind
		file    string
		size    int64
		wantErr string
	}{
		{name: "mp3", kind: KindAudio, file: "visit.mp3", size: 1024},
		{name: "upper case extension", kind: KindAudio, file: "VISIT.WAV", size: 1024},
		{name: "m4a at limit", kind: KindAudio, file: "a.m4a", size: 50 << 20},
		{name: "docx", kind: KindDocument, file: "病历.docx", size: 10},
		{name: "doc", kind: KindDocument, file: "old.doc", size: 10},
		{
			name:    "audio too large",
			kind:    KindAudio,
			file:    "a.mp3",
			size:    50<<20 + 1,
			wantErr: "音频文件大小不能超过 50MB",
		},
		{
			name:    "document too large",
			kind:    KindDocument,
			file:    "a.docx",
			size:    10<<20 + 1,
			wantErr: "DOCX 文件大小不能超过 10MB",
		},
		{
			name:    "no extension",
			kind:    KindAudio,
			file:    "recording",
			size:    1,
			wantErr: "音频文件格式不正确，请上传 .mp3、.wav 或 .m4a 文件",
		},
		{
			name:    "audio as document",
			kind:    KindDocument,
			file:    "a.mp3",
			size:    1,
			wantErr: "DOCX 文件格式不正确，请上传 .docx 或 .doc 文件",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := limits.Validate(tt.kind, tt.file, tt.size)
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}

			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Message != tt.wantErr {
				t.Errorf("Expected %q, got %q", tt.wantErr, verr.Message)
			}
			if verr.Kind != tt.kind {
				t.Errorf("Expected kind %s, got %s", tt.kind, verr.Kind)
			}
		})
	}
}

func TestJoinExtensions(t *testing.T) {
	tests := []struct {
		exts []string
		want string
	}{
		{nil, ""},
		{[]string{"mp3"}, ".mp3"},
		{[]string{".docx", "doc"}, ".docx 或 .doc"},
		{[]string{"mp3", "wav", "m4a"}, ".mp3、.wav 或 .m4a"},
	}

	for _, tt := range tests {
		if got := joinExtensions(tt.exts); got != tt.want {
			t.Errorf("joinExtensions(%v): expected %q, got %q", tt.exts, tt.want, got)
		}
	}
}

func TestStageErrorUploadLabel(t *testing.T) {
	audio := &StageError{Stage: StageUploadAudio, Kind: KindAudio, Err: errors.New("boom")}
	if audio.UploadLabel() != "MP3" {
		t.Errorf("Expected MP3, got %s", audio.UploadLabel())
	}

	doc := &StageError{Stage: StageUploadDocument, Kind: KindDocument, Err: errors.New("boom")}
	if doc.UploadLabel() != "DOCX" {
		t.Errorf("Expected DOCX, got %s", doc.UploadLabel())
	}
	if doc.Error() != "upload_document: boom" {
		t.Errorf("Unexpected error text: %s", doc.Error())
	}
}
