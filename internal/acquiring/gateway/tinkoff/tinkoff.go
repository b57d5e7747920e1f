package tinkoff

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/observability/logger"
	"github.com/smallbiznis/acquiring/internal/observability/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "https://securepay.tinkoff.ru/v2/"
	DefaultTimeout = 30 * time.Second

	methodInit     = "Init"
	methodCancel   = "Cancel"
	methodGetState = "GetState"

	maxResponseBytes = 1 << 20
	maxLoggedBody    = 200
	maxDescription   = 250
)

var (
	hundred = decimal.NewFromInt(100)

	// webhookMetadata lists callback fields persisted on the intent. Pan is
	// deliberately absent.
	webhookMetadata = map[string]string{
		"CardId":    "card_id",
		"RebillId":  "rebill_id",
		"ExpDate":   "card_exp_date",
		"ErrorCode": "error_code",
	}
)

type Options struct {
	BaseURL         string
	Timeout         time.Duration
	NotificationURL string
	Language        string
	HTTPClient      *http.Client
	Metrics         *metrics.HTTPMetrics
	Log             *zap.Logger
}

// Gateway talks to the Tinkoff acquiring API v2.
type Gateway struct {
	baseURL         string
	notificationURL string
	language        string
	client          *http.Client
	metrics         *metrics.HTTPMetrics
	tracer          trace.Tracer
	log             *zap.Logger
}

var _ domain.Gateway = (*Gateway)(nil)

func New(opts Options) (*Gateway, error) {
	base := strings.TrimSpace(opts.BaseURL)
	if base == "" {
		base = DefaultBaseURL
	}
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("tinkoff: invalid base url %q", base)
	}
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	return &Gateway{
		baseURL:         base,
		notificationURL: strings.TrimSpace(opts.NotificationURL),
		language:        strings.TrimSpace(opts.Language),
		client:          client,
		metrics:         opts.Metrics,
		tracer:          otel.Tracer("github.com/smallbiznis/acquiring/internal/acquiring/gateway/tinkoff"),
		log:             log.Named("tinkoff"),
	}, nil
}

func (g *Gateway) Type() domain.AcquirerType {
	return domain.AcquirerTinkoff
}

// ParseCredentials validates a decrypted credential map once. terminal_key
// and password are required; secret_key is accepted as a password alias.
func (g *Gateway) ParseCredentials(raw map[string]any) (domain.Credentials, error) {
	terminalKey := firstNonEmpty(readString(raw, "terminal_key"), readString(raw, "TerminalKey"))
	if terminalKey == "" {
		return domain.Credentials{}, domain.MissingCredentialField("terminal_key")
	}
	password := firstNonEmpty(readString(raw, "password"), readString(raw, "secret_key"), readString(raw, "Password"))
	if password == "" {
		return domain.Credentials{}, domain.MissingCredentialField("password")
	}

	creds := domain.Credentials{TerminalKey: terminalKey, Password: password}
	for _, key := range []string{"notification_url", "success_url", "fail_url", "language"} {
		if value := readString(raw, key); value != "" {
			if creds.Extra == nil {
				creds.Extra = map[string]string{}
			}
			creds.Extra[key] = value
		}
	}
	return creds, nil
}

func (g *Gateway) InitiatePayment(ctx context.Context, req domain.InitiateRequest, creds domain.Credentials) (domain.InitiateResult, error) {
	if err := requireCredentials(creds); err != nil {
		return domain.InitiateResult{}, err
	}
	body, err := g.buildInitRequest(req, creds)
	if err != nil {
		return domain.InitiateResult{}, err
	}

	var resp initResponse
	if err := g.call(ctx, methodInit, body, &resp); err != nil {
		return transportResult(err), nil
	}
	if !resp.Success {
		return domain.InitiateResult{
			Status:       domain.ResultError,
			ErrorMessage: firstNonEmpty(resp.Message, "payment initiation rejected"),
			ErrorCode:    resp.ErrorCode,
			Details:      resp.Details,
		}, nil
	}

	reference := strings.TrimSpace(resp.PaymentID.String())
	if reference == "" {
		return domain.InitiateResult{
			Status:       domain.ResultError,
			ErrorMessage: "acquirer response has no PaymentId",
		}, nil
	}

	return domain.InitiateResult{
		Status:      domain.ResultSuccess,
		Reference:   reference,
		RedirectURL: resp.PaymentURL,
		Requires3DS: resp.ACSURL != "",
		ACSURL:      resp.ACSURL,
		MD:          resp.MD,
		PaReq:       resp.PaReq,
	}, nil
}

func (g *Gateway) buildInitRequest(req domain.InitiateRequest, creds domain.Credentials) (initRequest, error) {
	amount, err := toKopecks(req.Amount)
	if err != nil {
		return initRequest{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency != "" && currency != domain.DefaultCurrency {
		return initRequest{}, fmt.Errorf("%w: %s", domain.ErrInvalidCurrency, currency)
	}
	orderID := firstNonEmpty(strings.TrimSpace(req.OrderID), strings.TrimSpace(req.PaymentID))
	if orderID == "" {
		return initRequest{}, errors.New("tinkoff: order id is required")
	}

	body := initRequest{
		TerminalKey:     creds.TerminalKey,
		Amount:          amount,
		OrderID:         orderID,
		Description:     truncateRunes(strings.TrimSpace(req.Description), maxDescription),
		Language:        firstNonEmpty(creds.Extra["language"], g.language),
		NotificationURL: firstNonEmpty(creds.Extra["notification_url"], g.notificationURL),
		SuccessURL:      firstNonEmpty(req.SuccessURL, creds.Extra["success_url"]),
		FailURL:         firstNonEmpty(req.FailURL, creds.Extra["fail_url"]),
		CustomerKey:     strings.TrimSpace(req.CustomerKey),
	}
	if req.Recurrent {
		if body.CustomerKey == "" {
			return initRequest{}, errors.New("tinkoff: recurrent payment requires a customer key")
		}
		body.Recurrent = "Y"
	}

	keys := make([]string, 0, len(req.Extra))
	for key := range req.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := strings.TrimSpace(req.Extra[key])
		switch key {
		case "pay_type":
			body.PayType = strings.ToUpper(value)
		case "redirect_due_date":
			body.RedirectDueDate = value
		case "language":
			body.Language = value
		default:
			return initRequest{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedField, key)
		}
	}
	if req.PaymentID != "" {
		body.Data = map[string]string{"payment_id": req.PaymentID}
	}

	body.Token = GenerateToken(body.tokenFields(), creds.Password)
	return body, nil
}

// Refund cancels a payment in full (amount nil) or in part. A well-formed
// rejection yields false without an error.
func (g *Gateway) Refund(ctx context.Context, intent *domain.PaymentIntent, amount *decimal.Decimal, creds domain.Credentials) (bool, error) {
	if err := requireCredentials(creds); err != nil {
		return false, err
	}
	reference := intent.Reference()
	if reference == "" {
		return false, domain.ErrMissingReference
	}

	body := cancelRequest{TerminalKey: creds.TerminalKey, PaymentID: reference}
	if amount != nil {
		kopecks, err := toKopecks(*amount)
		if err != nil {
			return false, err
		}
		body.Amount = kopecks
	}
	body.Token = GenerateToken(body.tokenFields(), creds.Password)

	var resp cancelResponse
	if err := g.call(ctx, methodCancel, body, &resp); err != nil {
		return false, err
	}
	if !resp.Success {
		g.log.Warn("refund rejected by acquirer",
			zap.String("acquirer_reference", reference),
			zap.String("error_code", resp.ErrorCode),
			zap.String("message", logger.Truncate(resp.Message, maxLoggedBody)),
		)
		return false, nil
	}
	return true, nil
}

func (g *Gateway) GetStatus(ctx context.Context, reference string, creds domain.Credentials) (domain.Status, error) {
	if err := requireCredentials(creds); err != nil {
		return "", err
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", domain.ErrMissingReference
	}

	body := getStateRequest{TerminalKey: creds.TerminalKey, PaymentID: reference}
	body.Token = GenerateToken(body.tokenFields(), creds.Password)

	var resp getStateResponse
	if err := g.call(ctx, methodGetState, body, &resp); err != nil {
		return "", err
	}
	if !resp.Success {
		return "", fmt.Errorf("tinkoff: GetState rejected with code %s", resp.ErrorCode)
	}
	return MapStatus(resp.Status), nil
}

// Identify extracts the dedup triple without verifying the payload.
func (g *Gateway) Identify(payload map[string]any) (domain.WebhookIdentity, error) {
	reference := readString(payload, "PaymentId")
	if reference == "" {
		return domain.WebhookIdentity{}, fmt.Errorf("%w: PaymentId is required", domain.ErrMalformedPayload)
	}
	status := readString(payload, "Status")
	if status == "" {
		return domain.WebhookIdentity{}, fmt.Errorf("%w: Status is required", domain.ErrMalformedPayload)
	}
	return domain.WebhookIdentity{
		Reference:      reference,
		ReportedStatus: strings.ToUpper(status),
		OrderID:        readString(payload, "OrderId"),
	}, nil
}

// HandleWebhook verifies the callback token and maps the reported status.
// Nothing is persisted here.
func (g *Gateway) HandleWebhook(ctx context.Context, payload map[string]any, creds domain.Credentials) (*domain.WebhookUpdate, error) {
	if err := requireCredentials(creds); err != nil {
		return nil, err
	}
	if !VerifyToken(payload, creds.Password) {
		return nil, domain.ErrInvalidSignature
	}
	if terminalKey := readString(payload, "TerminalKey"); terminalKey != "" && terminalKey != creds.TerminalKey {
		return nil, domain.ErrInvalidSignature
	}

	identity, err := g.Identify(payload)
	if err != nil {
		return nil, err
	}

	metadata := map[string]any{}
	for source, target := range webhookMetadata {
		if value := readString(payload, source); value != "" {
			metadata[target] = value
		}
	}

	return &domain.WebhookUpdate{
		Reference:      identity.Reference,
		ReportedStatus: identity.ReportedStatus,
		Status:         MapStatus(identity.ReportedStatus),
		Metadata:       metadata,
	}, nil
}

func (g *Gateway) call(ctx context.Context, method string, body any, out any) (err error) {
	ctx, span := g.tracer.Start(ctx, "tinkoff."+method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("acquirer", string(domain.AcquirerTinkoff)),
			attribute.String("operation", method),
		),
	)
	start := time.Now()
	defer func() {
		g.metrics.ObserveGatewayCall(string(domain.AcquirerTinkoff), method, err == nil, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+method, bytes.NewReader(payload))
	if err != nil {
		return &domain.TransportError{Operation: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &domain.TransportError{Operation: method, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &domain.TransportError{Operation: method, StatusCode: resp.StatusCode, Err: err}
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		g.log.Warn("acquirer returned non-2xx",
			zap.String("operation", method),
			zap.Int("status_code", resp.StatusCode),
			zap.String("body", logger.Truncate(string(raw), maxLoggedBody)),
		)
		return &domain.TransportError{Operation: method, StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &domain.TransportError{Operation: method, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func transportResult(err error) domain.InitiateResult {
	result := domain.InitiateResult{
		Status:       domain.ResultError,
		ErrorMessage: err.Error(),
	}
	var transportErr *domain.TransportError
	if errors.As(err, &transportErr) && transportErr.StatusCode != 0 {
		result.ErrorCode = "HTTP_" + strconv.Itoa(transportErr.StatusCode)
	}
	return result
}

// toKopecks converts a positive amount with at most two fraction digits to
// minor units.
func toKopecks(amount decimal.Decimal) (int64, error) {
	if !amount.IsPositive() {
		return 0, domain.ErrInvalidAmount
	}
	minor := amount.Mul(hundred)
	if !minor.IsInteger() {
		return 0, fmt.Errorf("%w: more than two fraction digits", domain.ErrInvalidAmount)
	}
	return minor.IntPart(), nil
}

func requireCredentials(creds domain.Credentials) error {
	if strings.TrimSpace(creds.TerminalKey) == "" {
		return domain.MissingCredentialField("terminal_key")
	}
	if creds.Password == "" {
		return domain.MissingCredentialField("password")
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
