package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// HandlePaymentWebhook answers OK for processed and duplicate deliveries so
// the provider stops retrying.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	payload, err := parseWebhookPayload(c.GetHeader("Content-Type"), body)
	if err != nil {
		s.log.Warn("unparseable webhook body", zap.String("provider", provider))
		c.String(http.StatusBadRequest, "invalid request body")
		return
	}

	out := s.webhooks.Reconcile(c.Request.Context(), provider, payload)
	status, text := webhookResponse(out)
	c.String(status, text)
}

func webhookResponse(out domain.Outcome) (int, string) {
	switch out.Result {
	case domain.OutcomeProcessed, domain.OutcomeDuplicate:
		return http.StatusOK, "OK"
	}
	message := strings.ToLower(out.Message)
	if strings.Contains(message, "signature") || strings.Contains(message, "validation") {
		return http.StatusForbidden, out.Message
	}
	return http.StatusBadRequest, out.Message
}

// parseWebhookPayload accepts a flat JSON object or a urlencoded form.
// JSON numbers keep their literal text so signatures can be recomputed.
func parseWebhookPayload(contentType string, body []byte) (map[string]any, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	if mediaType == "application/x-www-form-urlencoded" {
		return parseForm(body)
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		return parseJSON(trimmed)
	}
	if mediaType == "application/json" {
		return nil, ErrInvalidRequest
	}
	return parseForm(body)
}

func parseJSON(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	payload := map[string]any{}
	if err := dec.Decode(&payload); err != nil {
		return nil, ErrInvalidRequest
	}
	return payload, nil
}

func parseForm(body []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, ErrInvalidRequest
	}
	payload := make(map[string]any, len(values))
	for key, vals := range values {
		if len(vals) == 0 {
			continue
		}
		payload[key] = vals[0]
	}
	return payload, nil
}
