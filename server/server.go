// Package server wires the oracle engine, payment gating and facilitator
// client into an HTTP API.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/veritaslabs/oracle402/oracle"
	"github.com/veritaslabs/oracle402/paymentstore"
	"github.com/veritaslabs/oracle402/pricing"
	"github.com/veritaslabs/oracle402/x402"
	"github.com/veritaslabs/oracle402/x402/facilitator"
)

// Config assembles the server's dependencies.
type Config struct {
	Engine      *oracle.Engine
	Builder     *x402.Builder
	Facilitator facilitator.Interface
	Payments    paymentstore.Store
	Converter   *pricing.Converter

	// Treasury is the address payment records name as payee.
	Treasury string

	// AssetAddress is recorded on payment records.
	AssetAddress string

	// ReplayCacheSize bounds the payment proof replay cache.
	ReplayCacheSize int
}

// Server is the oracle HTTP API.
type Server struct {
	engine      *oracle.Engine
	builder     *x402.Builder
	facilitator facilitator.Interface
	payments    paymentstore.Store
	converter   *pricing.Converter
	treasury    string
	asset       string
	replay      *lru.Cache[string, struct{}]
	log         *logrus.Entry
}

// New creates a server from its dependencies.
func New(cfg Config) (*Server, error) {
	size := cfg.ReplayCacheSize
	if size <= 0 {
		size = 65536
	}
	replay, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("server: replay cache: %w", err)
	}
	return &Server{
		engine:      cfg.Engine,
		builder:     cfg.Builder,
		facilitator: cfg.Facilitator,
		payments:    cfg.Payments,
		converter:   cfg.Converter,
		treasury:    cfg.Treasury,
		asset:       cfg.AssetAddress,
		replay:      replay,
		log:         logrus.WithField("component", "server"),
	}, nil
}

// Router builds the gin router with all endpoints mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	api := r.Group("/api")
	{
		api.POST("/requests", s.requirePayment(x402.OpCreateRequest), s.handleCreateRequest)
		api.POST("/requests/:id/propose", s.requirePayment(x402.OpProposeAnswer), s.handlePropose)
		api.POST("/requests/:id/dispute", s.requirePayment(x402.OpDisputeAnswer), s.handleDispute)

		api.POST("/requests/:id/resolve", s.handleResolveUndisputed)
		api.POST("/requests/:id/resolve-dispute", s.handleResolveDisputed)
		api.POST("/requests/:id/cancel", s.handleCancel)

		api.GET("/requests", s.handleListRequests)
		api.GET("/requests/:id", s.handleGetRequest)
		api.GET("/requests/:id/payments", s.handleListPayments)
		api.GET("/rate", s.handleRate)
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// writeError maps engine and payment errors onto the HTTP error taxonomy.
func (s *Server) writeError(c *gin.Context, err error) {
	var oerr *oracle.Error
	if errors.As(err, &oerr) {
		c.AbortWithStatusJSON(oerr.HTTPStatus, gin.H{
			"error": x402.ErrorBody{Code: oerr.Code, Message: oerr.Message},
		})
		return
	}

	var perr *x402.PaymentError
	if errors.As(err, &perr) {
		status := http.StatusPaymentRequired
		if perr.Code == x402.ErrCodeFacilitatorUnavailable {
			status = http.StatusServiceUnavailable
		}
		c.AbortWithStatusJSON(status, gin.H{
			"error": x402.ErrorBody{Code: string(perr.Code), Message: perr.Message},
		})
		return
	}

	s.log.WithError(err).Error("unhandled error")
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
		"error": x402.ErrorBody{Code: "INTERNAL", Message: "internal server error"},
	})
}
