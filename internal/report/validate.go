package report

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Kind is the class of an uploaded file.
type Kind string

const (
	KindAudio    Kind = "audio"
	KindDocument Kind = "document"
)

// label is the user-facing name used in validation messages.
func (k Kind) label() string {
	if k == KindDocument {
		return "DOCX 文件"
	}
	return "音频文件"
}

// uploadLabel names the file class in upload failure messages.
func (k Kind) uploadLabel() string {
	if k == KindDocument {
		return "DOCX"
	}
	return "MP3"
}

// ClassLimit restricts one file class.
type ClassLimit struct {
	Extensions []string
	MaxBytes   int64
}

// Limits holds the restrictions of both file classes.
type Limits struct {
	Audio    ClassLimit
	Document ClassLimit
}

// DefaultLimits allows mp3/wav/m4a up to 50 MiB and docx/doc up to 10 MiB.
func DefaultLimits() Limits {
	return Limits{
		Audio:    ClassLimit{Extensions: []string{"mp3", "wav", "m4a"}, MaxBytes: 50 << 20},
		Document: ClassLimit{Extensions: []string{"docx", "doc"}, MaxBytes: 10 << 20},
	}
}

func (l Limits) forKind(kind Kind) ClassLimit {
	if kind == KindDocument {
		return l.Document
	}
	return l.Audio
}

// ValidationError rejects input before any remote call is made.
type ValidationError struct {
	Kind    Kind
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Validate checks name and size against the limits of kind.
func (l Limits) Validate(kind Kind, name string, size int64) error {
	limit := l.forKind(kind)

	if !hasExtension(name, limit.Extensions) {
		return &ValidationError{
			Kind:    kind,
			Message: fmt.Sprintf("%s格式不正确，请上传 %s 文件", kind.label(), joinExtensions(limit.Extensions)),
		}
	}

	if size > limit.MaxBytes {
		return &ValidationError{
			Kind:    kind,
			Message: fmt.Sprintf("%s大小不能超过 %dMB", kind.label(), limit.MaxBytes>>20),
		}
	}

	return nil
}

func hasExtension(name string, allowed []string) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if ext == "" {
		return false
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimPrefix(a, "."), ext) {
			return true
		}
	}
	return false
}

// joinExtensions renders [mp3 wav m4a] as ".mp3、.wav 或 .m4a".
func joinExtensions(exts []string) string {
	dotted := make([]string, len(exts))
	for i, e := range exts {
		dotted[i] = "." + strings.TrimPrefix(e, ".")
	}
	switch len(dotted) {
	case 0:
		return ""
	case 1:
		return dotted[0]
	default:
		return strings.Join(dotted[:len(dotted)-1], "、") + " 或 " + dotted[len(dotted)-1]
	}
}
