package report

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	documentTitle    = "病例报告"
	downloadPath     = "/api/download-report"
	localeTimeLayout = "2006/1/2 15:04:05"
)

// NewID returns the timestamp-based identifier of a report generated at t.
func NewID(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

// DownloadURL returns the relative URL that regenerates the report document.
func DownloadURL(id, text string) string {
	return downloadPath + "?id=" + EscapeComponent(id) + "&content=" + EscapeComponent(text)
}

// EscapeComponent percent-encodes s for use inside a URL component, with
// spaces as %20.
func EscapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// RenderDocument builds the plain-text report file.
func RenderDocument(text, id string, at time.Time) string {
	return fmt.Sprintf("%s\n\n%s\n\n生成时间: %s\n生成ID: %s\n",
		documentTitle, text, at.Format(localeTimeLayout), id)
}

// ContentDisposition returns an attachment header with an ASCII filename and
// a UTF-8 encoded localized filename.
func ContentDisposition(id string) string {
	id = sanitizeID(id)
	ascii := fmt.Sprintf("medical_report_%s.txt", id)
	localized := fmt.Sprintf("%s_%s.txt", documentTitle, id)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, ascii, EscapeComponent(localized))
}

// sanitizeID keeps characters that are safe inside a quoted header value.
func sanitizeID(id string) string {
	var b strings.Builder
	for _, r := range id {
		if r < 128 && (r == '-' || r == '_' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// FormatFileSize renders a byte count as "0 Bytes", "512 Bytes", "1.5 KB", ...
func FormatFileSize(bytes int64) string {
	if bytes <= 0 {
		return "0 Bytes"
	}
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(bytes)) / math.Log(1024)))
	if i >= len(sizes) {
		i = len(sizes) - 1
	}
	value := float64(bytes) / math.Pow(1024, float64(i))
	value = math.Round(value*100) / 100
	return strconv.FormatFloat(value, 'f', -1, 64) + " " + sizes[i]
}

// kilobytes renders a size as "12.34" KB with two decimals.
func kilobytes(bytes int64) string {
	return strconv.FormatFloat(float64(bytes)/1024, 'f', 2, 64)
}
