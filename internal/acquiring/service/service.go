package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway"
	"github.com/smallbiznis/acquiring/internal/clock"
	obslogger "github.com/smallbiznis/acquiring/internal/observability/logger"
	"github.com/smallbiznis/acquiring/internal/observability/metrics"
	"github.com/smallbiznis/acquiring/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	maxLoggedError = 200

	msgForeignIdempotencyKey = "idempotency key already used by another partner"
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Registry    *gateway.Registry
	Credentials *credential.Resolver
	Payments    domain.PaymentRepository
	Partners    domain.PartnerRepository
	Metrics     *metrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	registry    *gateway.Registry
	credentials *credential.Resolver
	payments    domain.PaymentRepository
	partners    domain.PartnerRepository
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.PaymentService {
	return New(p)
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("acquiring.payment"),
		genID:       p.GenID,
		clock:       clk,
		registry:    p.Registry,
		credentials: p.Credentials,
		payments:    p.Payments,
		partners:    p.Partners,
		metrics:     p.Metrics,
	}
}

// CreatePayment initiates a payment with the acquirer and records a PENDING
// intent. Every failure is reported through the returned Result.
func (s *Service) CreatePayment(ctx context.Context, partnerID snowflake.ID, req domain.CreatePaymentRequest, acquirer domain.AcquirerType) domain.Result {
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("partner_id", partnerID.String()),
		zap.String("acquirer", string(acquirer)),
	)

	currency, msg := validateRequest(req)
	if msg != "" {
		return s.fail(ctx, acquirer, "validation", domain.ErrorResult(msg))
	}

	partner, err := s.partners.FindByID(ctx, s.db, partnerID)
	if err != nil {
		log.Error("partner lookup failed", zap.Error(err))
		return s.fail(ctx, acquirer, "storage", domain.ErrorResult("partner lookup failed"))
	}
	if partner == nil || !partner.IsActive {
		return s.fail(ctx, acquirer, "partner", domain.ErrorResult("partner not found or inactive"))
	}

	gw, err := s.registry.Resolve(acquirer)
	if err != nil {
		log.Warn("acquirer not resolved", zap.Error(err))
		return s.fail(ctx, acquirer, "acquirer", domain.ErrorResult("unknown acquirer type"))
	}
	acquirer = gw.Type()

	creds, err := s.credentials.Load(ctx, partnerID, gw)
	if err != nil {
		log.Warn("acquirer credential unavailable", zap.Error(err))
		return s.fail(ctx, acquirer, "credential", domain.ErrorResult(credential.Describe(err)))
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey != "" {
		existing, err := s.payments.FindByIdempotencyKey(ctx, s.db, idempotencyKey)
		if err != nil {
			log.Error("idempotency lookup failed", zap.Error(err))
			return s.fail(ctx, acquirer, "storage", domain.ErrorResult("payment lookup failed"))
		}
		if existing != nil {
			if existing.PartnerID != partnerID {
				log.Warn("idempotency key owned by another partner", zap.String("payment_id", existing.ID.String()))
				return s.fail(ctx, acquirer, "idempotency", domain.ErrorResult(msgForeignIdempotencyKey))
			}
			log.Info("payment replayed", zap.String("payment_id", existing.ID.String()))
			s.metrics.RecordPaymentCreated(ctx, string(acquirer), true)
			return replayResult(existing)
		}
	} else {
		idempotencyKey = uuid.NewString()
	}

	paymentID := s.genID.Generate()
	initiated := s.initiate(ctx, gw, domain.InitiateRequest{
		PaymentID:   paymentID.String(),
		OrderID:     strings.TrimSpace(req.OrderID),
		Amount:      req.Amount,
		Currency:    currency,
		Description: req.Description,
		SuccessURL:  req.SuccessURL,
		FailURL:     req.FailURL,
		CustomerKey: req.CustomerKey,
		Recurrent:   req.Recurrent,
	}, creds)

	if initiated.Status != domain.ResultSuccess {
		log.Warn("payment initiation failed",
			zap.String("payment_id", paymentID.String()),
			zap.String("error_code", initiated.ErrorCode),
			zap.String("error", obslogger.Truncate(initiated.ErrorMessage, maxLoggedError)),
		)
		return s.fail(ctx, acquirer, "gateway", domain.Result{
			Status:       domain.ResultError,
			ErrorMessage: initiated.ErrorMessage,
			ErrorCode:    initiated.ErrorCode,
			Details:      initiated.Details,
		})
	}

	now := s.clock.Now()
	reference := initiated.Reference
	intent := &domain.PaymentIntent{
		ID:                paymentID,
		PartnerID:         partnerID,
		Amount:            req.Amount,
		Currency:          currency,
		Status:            domain.StatusPending,
		AcquirerType:      acquirer,
		AcquirerReference: &reference,
		Description:       req.Description,
		OrderID:           strings.TrimSpace(req.OrderID),
		Metadata:          initiationMetadata(initiated),
		IdempotencyKey:    idempotencyKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.payments.Insert(ctx, s.db, intent); err != nil {
		if db.IsDuplicateKeyErr(err) {
			winner, findErr := s.payments.FindByIdempotencyKey(ctx, s.db, idempotencyKey)
			if findErr == nil && winner != nil && winner.PartnerID == partnerID {
				log.Info("concurrent creation resolved to existing payment", zap.String("payment_id", winner.ID.String()))
				s.metrics.RecordPaymentCreated(ctx, string(acquirer), true)
				return replayResult(winner)
			}
		}
		log.Error("payment intent not recorded",
			zap.String("payment_id", paymentID.String()),
			zap.String("acquirer_reference", reference),
			zap.Error(err),
		)
		return s.fail(ctx, acquirer, "storage", domain.ErrorResult("payment could not be recorded"))
	}

	log.Info("payment created",
		zap.String("payment_id", intent.ID.String()),
		zap.String("acquirer_reference", reference),
		zap.Bool("requires_3ds", initiated.Requires3DS),
	)
	s.metrics.RecordPaymentCreated(ctx, string(acquirer), false)

	return domain.Result{
		Status:      domain.ResultSuccess,
		Intent:      intent,
		RedirectURL: initiated.RedirectURL,
		Requires3DS: initiated.Requires3DS,
	}
}

// RefundPayment asks the acquirer to return funds. The intent's status is
// left for the acquirer's callback to change.
func (s *Service) RefundPayment(ctx context.Context, intent *domain.PaymentIntent, amount *decimal.Decimal) (accepted bool) {
	if intent == nil {
		return false
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("payment_id", intent.ID.String()),
		zap.String("acquirer", string(intent.AcquirerType)),
	)
	defer func() {
		s.metrics.RecordRefund(ctx, string(intent.AcquirerType), accepted)
	}()

	if intent.Status != domain.StatusSuccess {
		log.Info("refund refused", zap.String("reason", "status"), zap.String("status", string(intent.Status)))
		return false
	}
	if amount != nil && (!amount.IsPositive() || amount.GreaterThan(intent.Amount)) {
		log.Info("refund refused", zap.String("reason", "amount"), zap.String("amount", amount.String()))
		return false
	}

	partner, err := s.partners.FindByID(ctx, s.db, intent.PartnerID)
	if err != nil || partner == nil || !partner.IsActive {
		log.Warn("refund refused", zap.String("reason", "partner"), zap.Error(err))
		return false
	}
	gw, err := s.registry.Resolve(intent.AcquirerType)
	if err != nil {
		log.Warn("refund refused", zap.String("reason", "acquirer"), zap.Error(err))
		return false
	}
	creds, err := s.credentials.Load(ctx, intent.PartnerID, gw)
	if err != nil {
		log.Warn("refund refused", zap.String("reason", "credential"), zap.Error(err))
		return false
	}

	ok, err := s.refund(ctx, gw, intent, amount, creds)
	if err != nil {
		s.metrics.RecordGatewayError(ctx, string(intent.AcquirerType), "refund")
		log.Warn("refund failed", zap.String("error", obslogger.Truncate(err.Error(), maxLoggedError)))
		return false
	}
	log.Info("refund requested", zap.Bool("accepted", ok))
	return ok
}

// GetExternalStatus asks the acquirer for the intent's current status. It
// returns nil on any failure.
func (s *Service) GetExternalStatus(ctx context.Context, intent *domain.PaymentIntent) *domain.Status {
	if intent == nil || intent.Reference() == "" {
		return nil
	}
	log := obslogger.WithContext(ctx, s.log).With(
		zap.String("payment_id", intent.ID.String()),
		zap.String("acquirer", string(intent.AcquirerType)),
	)

	gw, err := s.registry.Resolve(intent.AcquirerType)
	if err != nil {
		log.Warn("status check skipped", zap.Error(err))
		return nil
	}
	creds, err := s.credentials.Load(ctx, intent.PartnerID, gw)
	if err != nil {
		log.Warn("status check skipped", zap.Error(err))
		return nil
	}

	status, err := s.status(ctx, gw, intent.Reference(), creds)
	if err != nil {
		s.metrics.RecordGatewayError(ctx, string(intent.AcquirerType), "get_status")
		log.Warn("status check failed", zap.String("error", obslogger.Truncate(err.Error(), maxLoggedError)))
		return nil
	}
	return &status
}

func (s *Service) GetPayment(ctx context.Context, id snowflake.ID) (*domain.PaymentIntent, error) {
	intent, err := s.payments.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrPaymentNotFound
	}
	return intent, nil
}

func (s *Service) ListPayments(ctx context.Context, partnerID snowflake.ID, limit int) ([]domain.PaymentIntent, error) {
	return s.payments.ListByPartner(ctx, s.db, partnerID, limit)
}

func (s *Service) initiate(ctx context.Context, gw domain.Gateway, req domain.InitiateRequest, creds domain.Credentials) (result domain.InitiateResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("gateway panicked during initiation", zap.String("acquirer", string(gw.Type())), zap.Any("panic", r))
			result = domain.InitiateResult{Status: domain.ResultError, ErrorMessage: fmt.Sprint(r)}
		}
	}()

	out, err := gw.InitiatePayment(ctx, req, creds)
	if err != nil {
		s.metrics.RecordGatewayError(ctx, string(gw.Type()), "initiate")
		return domain.InitiateResult{Status: domain.ResultError, ErrorMessage: err.Error()}
	}
	if out.Status == domain.ResultError && out.ErrorMessage == "" {
		out.ErrorMessage = "payment initiation failed"
	}
	return out
}

func (s *Service) refund(ctx context.Context, gw domain.Gateway, intent *domain.PaymentIntent, amount *decimal.Decimal, creds domain.Credentials) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return gw.Refund(ctx, intent, amount, creds)
}

func (s *Service) status(ctx context.Context, gw domain.Gateway, reference string, creds domain.Credentials) (status domain.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status, err = "", fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return gw.GetStatus(ctx, reference, creds)
}

func (s *Service) fail(ctx context.Context, acquirer domain.AcquirerType, reason string, result domain.Result) domain.Result {
	s.metrics.RecordPaymentFailed(ctx, string(acquirer), reason)
	return result
}

func validateRequest(req domain.CreatePaymentRequest) (string, string) {
	if !req.Amount.IsPositive() {
		return "", "amount must be greater than zero"
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return "", "amount must have at most two fraction digits"
	}
	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = domain.DefaultCurrency
	}
	if !currencyPattern.MatchString(currency) {
		return "", "currency must be a three-letter ISO 4217 code"
	}
	return currency, ""
}

func initiationMetadata(res domain.InitiateResult) datatypes.JSON {
	meta := map[string]any{
		"requires_3ds": res.Requires3DS,
	}
	if res.RedirectURL != "" {
		meta["redirect_url"] = res.RedirectURL
	}
	if res.ACSURL != "" {
		meta["acs_url"] = res.ACSURL
	}
	if res.MD != "" {
		meta["md"] = res.MD
	}
	if res.PaReq != "" {
		meta["pa_req"] = res.PaReq
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return datatypes.JSON([]byte("{}"))
	}
	return datatypes.JSON(raw)
}

func replayResult(intent *domain.PaymentIntent) domain.Result {
	result := domain.Result{
		Status:   domain.ResultSuccess,
		Intent:   intent,
		Replayed: true,
	}
	var meta map[string]any
	if err := json.Unmarshal(intent.Metadata, &meta); err == nil {
		if url, ok := meta["redirect_url"].(string); ok {
			result.RedirectURL = url
		}
		if requires, ok := meta["requires_3ds"].(bool); ok {
			result.Requires3DS = requires
		}
	}
	return result
}
