// Package errinfo defines the structured error bodies returned to API callers.
package errinfo

import "time"

// Payload is the JSON body of every failed API call.
type Payload struct {
	Error      string    `json:"error"`
	Details    any       `json:"details,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WorkflowDetails is the diagnostic context attached to workflow failures.
type WorkflowDetails struct {
	Suggestion string   `json:"suggestion"`
	BotID      string   `json:"botId,omitempty"`
	SpaceID    string   `json:"spaceId,omitempty"`
	WorkflowID string   `json:"workflowId"`
	Parameters []string `json:"parameters"`
}

const (
	SuggestCheckFile     = "请检查文件格式是否正确，或稍后重试"
	SuggestCheckWorkflow = "请检查 Coze 工作流配置是否正确，或联系技术支持"
	SuggestRetryLater    = "请稍后重试，如果问题持续存在，请联系技术支持"
)

// New builds a payload stamped with the current time.
func New(msg string, details any, suggestion string) Payload {
	return Payload{
		Error:      msg,
		Details:    details,
		Suggestion: suggestion,
		Timestamp:  time.Now().UTC(),
	}
}

// Validation is the payload for rejected input.
func Validation(msg string) Payload {
	return New(msg, nil, "")
}

// Upload is the payload for a file that could not be uploaded.
func Upload(label string, err error) Payload {
	return New(label+" 文件上传失败: "+err.Error(), nil, SuggestCheckFile)
}

// Workflow is the payload for a failed or empty workflow run.
func Workflow(err error, details WorkflowDetails) Payload {
	if details.Suggestion == "" {
		details.Suggestion = SuggestCheckWorkflow
	}
	return New("报告生成失败: "+err.Error(), details, details.Suggestion)
}

// Internal is the payload for unexpected failures.
func Internal(msg string, err error) Payload {
	return New(msg, err.Error(), SuggestRetryLater)
}
