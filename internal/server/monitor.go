package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/lyzno1/medical-case-report/internal/logging"
)

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	coze := h.config.Coze
	cozeService := map[string]interface{}{
		"configured": coze.APIKey != "" && coze.BotID != "" && coze.WorkflowID != "",
		"baseUrl":    coze.BaseURL,
	}
	if h.coze != nil {
		stats := h.coze.GetStats()
		cozeService["baseUrl"] = h.coze.BaseURL()
		cozeService["stats"] = map[string]interface{}{
			"total_requests":  stats.TotalRequests,
			"failed_requests": stats.FailedRequests,
			"success_rate":    stats.SuccessRate,
			"avg_response_ms": stats.AvgResponseTime.Milliseconds(),
			"active_requests": stats.ActiveRequests,
		}
	}

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   serviceVersion,
		"services": map[string]interface{}{
			"coze": cozeService,
		},
		"uptime": time.Since(h.startTime).Seconds(),
	}

	writeJSON(w, http.StatusOK, health)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	writeJSON(w, http.StatusOK, h.config.Sanitized())
}

// handleTestCoze implements GET /api/test-coze, a configuration check that
// makes no remote call.
func (h *HTTPServer) handleTestCoze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	coze := h.config.Coze
	ids := map[string]interface{}{
		"botId":      coze.BotID,
		"spaceId":    coze.SpaceID,
		"workflowId": coze.WorkflowID,
	}

	if err := coze.Validate(); err != nil {
		logging.FromContext(r.Context(), h.logger).Warn("Coze configuration check failed")

		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "Coze API 配置验证失败",
			"error":   err.Error(),
			"troubleshooting": []string{
				"检查环境变量 COZE_API_KEY 是否正确设置",
				"验证 Bot ID 是否有效",
				"确认 Space ID 权限",
				"检查 Workflow ID 是否存在",
				"查看服务器日志获取详细错误信息",
			},
			"providedIds": ids,
			"timestamp":   time.Now().UTC(),
		})
		return
	}

	apiKeyPrefix := "未设置"
	if coze.APIKey != "" {
		apiKeyPrefix = logging.RedactValue(coze.APIKey)
	}
	baseURL := strings.TrimRight(coze.BaseURL, "/")

	ids["baseUrl"] = coze.BaseURL
	ids["hasApiKey"] = coze.APIKey != ""
	ids["apiKeyPrefix"] = apiKeyPrefix
	ids["workflowParams"] = map[string]string{
		"audioParam": h.config.Workflow.AudioParam,
		"docParam":   h.config.Workflow.DocParam,
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "success",
		"message": "Coze API 配置验证成功",
		"config":  ids,
		"urls": map[string]string{
			"fileUpload":  baseURL + "/files/upload",
			"workflowRun": baseURL + "/workflow/run",
		},
		"recommendations": []string{
			"确保您的 Coze 工作流已正确配置",
			"验证工作流参数名称与配置文件中的设置一致",
			"测试文件上传功能",
			"检查工作流的输入和输出格式",
			"确认 Space ID 权限设置正确",
		},
		"timestamp": time.Now().UTC(),
	})
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": serviceName,
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":                     "API documentation",
			"GET /health":               "Service health check",
			"GET /config":               "Get service configuration",
			"GET /api/test-coze":        "Check Coze configuration",
			"POST /api/generate-report": "Generate a report from docx and/or mp3 uploads",
			"POST /api/upload-file":     "Upload an audio file",
			"POST /api/run-workflow":    "Run the workflow over an uploaded file",
			"POST /api/transcribe":      "Upload an audio clip",
			"GET /api/download-report":  "Download a report as text",
			"GET /metrics":              "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
