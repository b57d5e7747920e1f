package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/acquiring/internal/acquiring/domain"
)

const (
	idempotencyHeader = "Idempotency-Key"
	defaultListLimit  = 50
)

type createPaymentRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	OrderID        string          `json:"order_id" binding:"omitempty,max=50"`
	Description    string          `json:"description" binding:"omitempty,max=250"`
	Currency       string          `json:"currency" binding:"omitempty,len=3,alpha"`
	IdempotencyKey string          `json:"idempotency_key" binding:"omitempty,max=191"`
	SuccessURL     string          `json:"success_url" binding:"omitempty,url"`
	FailURL        string          `json:"fail_url" binding:"omitempty,url"`
	CustomerKey    string          `json:"customer_key" binding:"omitempty,max=36"`
	Recurrent      bool            `json:"recurrent"`
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount"`
}

type externalStatusResponse struct {
	PaymentID string         `json:"payment_id"`
	Status    *domain.Status `json:"status"`
}

func (s *Server) CreatePayment(c *gin.Context) {
	partnerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("partner_id")))
	if err != nil {
		AbortWithError(c, newValidationError("partner_id", "invalid_partner_id", "invalid partner id"))
		return
	}

	var req createPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, bindingError(err))
		return
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(c.GetHeader(idempotencyHeader))
	}

	result := s.payments.CreatePayment(c.Request.Context(), partnerID, domain.CreatePaymentRequest{
		Amount:         req.Amount,
		OrderID:        strings.TrimSpace(req.OrderID),
		Description:    strings.TrimSpace(req.Description),
		Currency:       strings.TrimSpace(req.Currency),
		IdempotencyKey: key,
		SuccessURL:     strings.TrimSpace(req.SuccessURL),
		FailURL:        strings.TrimSpace(req.FailURL),
		CustomerKey:    strings.TrimSpace(req.CustomerKey),
		Recurrent:      req.Recurrent,
	}, domain.AcquirerType(c.Query("acquirer")))

	if result.Status == domain.ResultError {
		c.JSON(http.StatusUnprocessableEntity, result)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (s *Server) ListPayments(c *gin.Context) {
	partnerID, err := snowflake.ParseString(strings.TrimSpace(c.Param("partner_id")))
	if err != nil {
		AbortWithError(c, newValidationError("partner_id", "invalid_partner_id", "invalid partner id"))
		return
	}

	limit := defaultListLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	items, err := s.payments.ListPayments(c.Request.Context(), partnerID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items})
}

func (s *Server) GetPayment(c *gin.Context) {
	intent, ok := s.loadPayment(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, intent)
}

func (s *Server) GetExternalStatus(c *gin.Context) {
	intent, ok := s.loadPayment(c)
	if !ok {
		return
	}
	status := s.payments.GetExternalStatus(c.Request.Context(), intent)
	c.JSON(http.StatusOK, externalStatusResponse{PaymentID: intent.ID.String(), Status: status})
}

func (s *Server) RefundPayment(c *gin.Context) {
	intent, ok := s.loadPayment(c)
	if !ok {
		return
	}

	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		AbortWithError(c, bindingError(err))
		return
	}

	refunded := s.payments.RefundPayment(c.Request.Context(), intent, req.Amount)
	c.JSON(http.StatusOK, gin.H{"refunded": refunded})
}

func (s *Server) loadPayment(c *gin.Context) (*domain.PaymentIntent, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, ErrNotFound)
		return nil, false
	}
	intent, err := s.payments.GetPayment(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return nil, false
	}
	return intent, true
}
