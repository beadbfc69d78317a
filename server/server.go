// Package server exposes the checkout flows over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vitwit/x402-checkout/checkout"
	"github.com/vitwit/x402-checkout/commit"
	"github.com/vitwit/x402-checkout/logger"
	"github.com/vitwit/x402-checkout/types"
)

const (
	HeaderPayment         = "X-PAYMENT"
	HeaderPaymentResponse = "X-PAYMENT-RESPONSE"
	HeaderIdempotencyKey  = "Idempotency-Key"
)

// Supporter reports the payment kinds the server accepts.
type Supporter interface {
	Supported() *types.SupportedResponse
}

type Server struct {
	engine    *gin.Engine
	checkout  *checkout.Service
	supported Supporter
	logger    logger.Logger
	gatherer  prometheus.Gatherer
	publicURL string
}

type Option func(*Server)

func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		s.logger = logger.OrNoop(l)
	}
}

// WithGatherer serves g on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithPublicURL sets the externally visible base URL used for payment
// resource URLs. Without it the request's host is used.
func WithPublicURL(u string) Option {
	return func(s *Server) {
		s.publicURL = strings.TrimRight(u, "/")
	}
}

func New(svc *checkout.Service, supported Supporter, opts ...Option) *Server {
	s := &Server{
		checkout:  svc,
		supported: supported,
		logger:    logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.logRequests())

	r.GET("/healthz", s.health)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api")
	api.GET("/supported", s.supportedKinds)
	api.POST("/purchase", s.purchase)
	api.POST("/creator-products", s.createListing)
	api.POST("/creator-products/:id/purchase", s.purchaseListing)

	s.engine = r
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) logRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request", map[string]any{
			"method":          c.Request.Method,
			"path":            c.FullPath(),
			"status":          c.Writer.Status(),
			"latency_ms":      time.Since(start).Milliseconds(),
			"idempotency_key": c.GetHeader(HeaderIdempotencyKey),
		})
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) supportedKinds(c *gin.Context) {
	if s.supported == nil {
		c.JSON(http.StatusOK, types.SupportedResponse{Kinds: []types.SupportedItem{}})
		return
	}
	c.JSON(http.StatusOK, s.supported.Supported())
}

func (s *Server) purchase(c *gin.Context) {
	var req checkout.PurchaseRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.checkout.Purchase(c.Request.Context(), s.payment(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	res.Body.Warnings = res.Warnings
	respond(c, res.PaymentResponse, res.Body)
}

func (s *Server) createListing(c *gin.Context) {
	var req checkout.ListingRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.checkout.CreateListing(c.Request.Context(), s.payment(c), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	res.Body.Warnings = res.Warnings
	respond(c, res.PaymentResponse, res.Body)
}

func (s *Server) purchaseListing(c *gin.Context) {
	var req checkout.ListingPurchaseRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.checkout.PurchaseListing(c.Request.Context(), s.payment(c), c.Param("id"), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	res.Body.Warnings = res.Warnings
	respond(c, res.PaymentResponse, res.Body)
}

func respond(c *gin.Context, paymentResponse string, body any) {
	if paymentResponse != "" {
		c.Header(HeaderPaymentResponse, paymentResponse)
	}
	c.JSON(http.StatusOK, body)
}

// bind decodes the JSON body. Field validation is left to the checkout
// service so it runs the same way for every caller.
func (s *Server) bind(c *gin.Context, v any) bool {
	raw, err := c.GetRawData()
	if err == nil {
		err = json.Unmarshal(raw, v)
	}
	if err != nil {
		s.fail(c, &types.ValidationError{Fields: []types.FieldError{{Field: "body", Message: "malformed JSON"}}})
		return false
	}
	return true
}

func (s *Server) payment(c *gin.Context) checkout.Payment {
	return checkout.Payment{
		Header:         c.GetHeader(HeaderPayment),
		IdempotencyKey: c.GetHeader(HeaderIdempotencyKey),
		ResourceURL:    s.resourceURL(c),
	}
}

func (s *Server) resourceURL(c *gin.Context) string {
	if s.publicURL != "" {
		return s.publicURL + c.Request.URL.Path
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p != "" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host + c.Request.URL.Path
}

func (s *Server) fail(c *gin.Context, err error) {
	var (
		rej *commit.Rejection
		ve  *types.ValidationError
		be  *types.BusinessRuleError
	)

	switch {
	case errors.As(err, &rej) && rej.Body != nil:
		c.AbortWithStatusJSON(http.StatusPaymentRequired, rej.Body)
	case errors.As(err, &ve):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
			"error":   "validation failed",
			"details": ve.Fields,
		})
	case errors.As(err, &be):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{
			"error": be.Message,
			"field": be.Field,
		})
	default:
		s.logger.Error("request failed", map[string]any{
			"path":            c.FullPath(),
			"idempotency_key": c.GetHeader(HeaderIdempotencyKey),
			"error":           err,
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
