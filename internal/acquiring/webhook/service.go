package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/smallbiznis/acquiring/internal/acquiring/credential"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
	"github.com/smallbiznis/acquiring/internal/acquiring/gateway"
	"github.com/smallbiznis/acquiring/internal/clock"
	"github.com/smallbiznis/acquiring/internal/config"
	"github.com/smallbiznis/acquiring/internal/dedup"
	obslogger "github.com/smallbiznis/acquiring/internal/observability/logger"
	"github.com/smallbiznis/acquiring/internal/observability/metrics"
	"github.com/smallbiznis/acquiring/internal/vault"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	defaultDedupTTL  = 10 * time.Minute
	maxApplyAttempts = 3
	maxLoggedError   = 200

	msgDuplicate       = "duplicate delivery"
	msgNotFound        = "payment not found"
	msgSignature       = "signature validation failed"
	msgPayload         = "payload validation failed"
	msgTransient       = "webhook processing failed"
	msgUpdateFailed    = "payment update failed"
	msgMissingIdentity = "malformed payload: missing reference or status"
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Registry    *gateway.Registry
	Credentials *credential.Resolver
	Payments    domain.PaymentRepository
	Dedup       dedup.Store
	Config      *config.AcquiringConfigHolder `optional:"true"`
	Metrics     *metrics.Metrics              `optional:"true"`
}

// Service reconciles acquirer callbacks into the payment ledger.
type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	registry    *gateway.Registry
	credentials *credential.Resolver
	payments    domain.PaymentRepository
	dedup       dedup.Store
	config      *config.AcquiringConfigHolder
	metrics     *metrics.Metrics
}

func NewService(p Params) domain.WebhookService {
	return New(p)
}

func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("acquiring.webhook"),
		clock:       clk,
		registry:    p.Registry,
		credentials: p.Credentials,
		payments:    p.Payments,
		dedup:       p.Dedup,
		config:      p.Config,
		metrics:     p.Metrics,
	}
}

// Reconcile processes one delivery. Duplicates have no side effects. The
// dedup mark is set once the event is processed or definitively rejected,
// and left unset for failures the provider should retry.
func (s *Service) Reconcile(ctx context.Context, provider string, payload map[string]any) (out domain.Outcome) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	log := obslogger.WithContext(ctx, s.log).With(zap.String("provider", provider))
	defer func() {
		s.metrics.RecordWebhookOutcome(ctx, provider, string(out.Result))
	}()

	if provider == "" || !s.registry.Exists(domain.AcquirerType(provider)) {
		log.Warn("webhook for unknown provider")
		return failure("unknown provider: " + provider)
	}
	gw, err := s.registry.Resolve(domain.AcquirerType(provider))
	if err != nil {
		log.Error("gateway unavailable", zap.Error(err))
		return failure("unknown provider: " + provider)
	}

	identity, err := gw.Identify(payload)
	if err != nil || identity.Reference == "" || identity.ReportedStatus == "" {
		log.Warn("webhook without reference or status")
		return failure(msgMissingIdentity)
	}
	log = log.With(
		zap.String("acquirer_reference", identity.Reference),
		zap.String("reported_status", identity.ReportedStatus),
	)

	key := dedup.Key(identity.Reference, identity.ReportedStatus)
	seen, err := s.dedup.Seen(ctx, key)
	if err != nil {
		log.Warn("dedup lookup failed, processing anyway", zap.Error(err))
	}
	if seen {
		log.Info("duplicate webhook ignored")
		return domain.Outcome{Result: domain.OutcomeDuplicate, Message: msgDuplicate, Reference: identity.Reference}
	}

	intent, err := s.payments.FindByReference(ctx, s.db, identity.Reference, gw.Type())
	if err != nil {
		log.Error("payment lookup failed", zap.Error(err))
		return failure(msgTransient)
	}
	if intent == nil {
		log.Warn("webhook for unknown payment", zap.String("order_id", identity.OrderID))
		return failure(msgNotFound)
	}
	log = log.With(zap.String("payment_id", intent.ID.String()), zap.String("partner_id", intent.PartnerID.String()))

	creds, err := s.credentials.Load(ctx, intent.PartnerID, gw)
	if err != nil {
		if !isCredentialFailure(err) {
			log.Error("credential lookup failed", zap.Error(err))
			return failure(msgTransient)
		}
		log.Warn("webhook cannot be verified", zap.Error(err))
		s.mark(ctx, log, key)
		return failure(credential.Describe(err))
	}

	update, err := s.handle(ctx, gw, payload, creds)
	if err != nil {
		if domain.IsIntegrityError(err) {
			log.Warn("webhook rejected", zap.Error(err))
			s.mark(ctx, log, key)
			if errors.Is(err, domain.ErrInvalidSignature) {
				return failure(msgSignature)
			}
			return failure(msgPayload)
		}
		log.Error("webhook handling failed", zap.String("error", obslogger.Truncate(err.Error(), maxLoggedError)))
		return failure(msgTransient)
	}

	if err := s.apply(ctx, log, intent, update); err != nil {
		log.Error("payment update failed", zap.Error(err))
		return failure(msgUpdateFailed)
	}

	s.mark(ctx, log, key)
	return domain.Outcome{
		Result:    domain.OutcomeProcessed,
		PaymentID: intent.ID.String(),
		Reference: identity.Reference,
	}
}

func (s *Service) handle(ctx context.Context, gw domain.Gateway, payload map[string]any, creds domain.Credentials) (update *domain.WebhookUpdate, err error) {
	defer func() {
		if r := recover(); r != nil {
			update, err = nil, fmt.Errorf("gateway panic: %v", r)
		}
	}()
	return gw.HandleWebhook(ctx, payload, creds)
}

// apply moves the intent to the reported status. Regressions such as
// SUCCESS to PENDING from a late delivery are skipped.
func (s *Service) apply(ctx context.Context, log *zap.Logger, intent *domain.PaymentIntent, update *domain.WebhookUpdate) error {
	if update == nil {
		return nil
	}
	current := intent
	for attempt := 0; attempt < maxApplyAttempts; attempt++ {
		if !domain.CanTransition(current.Status, update.Status) {
			log.Warn("out of order status ignored",
				zap.String("from", string(current.Status)),
				zap.String("to", string(update.Status)),
			)
			return nil
		}

		metadata, err := mergeMetadata(current.Metadata, update.Metadata)
		if err != nil {
			return err
		}
		if current.Status == update.Status && sameMetadata(current.Metadata, metadata) {
			return nil
		}

		changed, err := s.payments.TransitionStatus(ctx, s.db, current.ID, current.Status, update.Status, metadata, s.clock.Now())
		if err != nil {
			return err
		}
		if changed {
			log.Info("payment status updated",
				zap.String("from", string(current.Status)),
				zap.String("to", string(update.Status)),
			)
			return nil
		}

		current, err = s.payments.FindByID(ctx, s.db, current.ID)
		if err != nil {
			return err
		}
		if current == nil {
			return domain.ErrPaymentNotFound
		}
	}
	return errors.New("payment status changed concurrently")
}

func (s *Service) mark(ctx context.Context, log *zap.Logger, key string) {
	if _, err := s.dedup.Mark(ctx, key, s.ttl()); err != nil {
		log.Warn("dedup mark failed", zap.Error(err))
	}
}

func (s *Service) ttl() time.Duration {
	if s.config == nil {
		return defaultDedupTTL
	}
	if ttl := s.config.Get().DedupTTL; ttl > 0 {
		return ttl
	}
	return defaultDedupTTL
}

func failure(message string) domain.Outcome {
	return domain.Outcome{Result: domain.OutcomeError, Message: message}
}

func isCredentialFailure(err error) bool {
	return errors.Is(err, domain.ErrCredentialNotFound) ||
		errors.Is(err, vault.ErrDecryption) ||
		errors.Is(err, domain.ErrMissingCredentialField)
}

func mergeMetadata(existing datatypes.JSON, update map[string]any) (datatypes.JSON, error) {
	merged := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &merged); err != nil {
			merged = map[string]any{}
		}
	}
	for k, v := range update {
		merged[k] = v
	}
	raw, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(raw), nil
}

func sameMetadata(a, b datatypes.JSON) bool {
	var left, right map[string]any
	if len(a) > 0 {
		if err := json.Unmarshal(a, &left); err != nil {
			return false
		}
	}
	if len(b) > 0 {
		if err := json.Unmarshal(b, &right); err != nil {
			return false
		}
	}
	if len(left) == 0 && len(right) == 0 {
		return true
	}
	return reflect.DeepEqual(left, right)
}
