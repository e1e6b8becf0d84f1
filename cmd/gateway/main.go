// Mock notification provider for local development. It accepts SMS and email
// notifications on the same API the engine's gateway client speaks, simulates
// delivery with a configurable success rate, and posts delivery callbacks
// back to the engine the way the real provider would.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type SendRequest struct {
	ClientReference string            `json:"client_reference" binding:"required"`
	To              string            `json:"to" binding:"required"`
	TemplateID      string            `json:"template_id" binding:"required"`
	Personalisation map[string]string `json:"personalisation"`
	SenderID        string            `json:"sender_id"`
}

type SendResponse struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

type StatusResponse struct {
	Reference   string     `json:"reference"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type DeliveryCallback struct {
	Reference   string     `json:"reference"`
	To          string     `json:"to"`
	Status      string     `json:"status"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type notification struct {
	reference   string
	to          string
	status      string
	createdAt   time.Time
	completedAt *time.Time
}

// MockProvider simulates the notification provider: accepted notifications
// move to a final status after a short delay and a callback is posted.
type MockProvider struct {
	deliveryRate float64
	minDelay     time.Duration
	maxDelay     time.Duration
	callbackURL  string

	mu            sync.Mutex
	notifications map[string]*notification
	rng           *rand.Rand
}

func NewMockProvider(deliveryRate float64, minDelay, maxDelay time.Duration, callbackURL string) *MockProvider {
	return &MockProvider{
		deliveryRate:  deliveryRate,
		minDelay:      minDelay,
		maxDelay:      maxDelay,
		callbackURL:   callbackURL,
		notifications: make(map[string]*notification),
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *MockProvider) accept(to string) *notification {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := &notification{
		reference: "mock-" + uuid.NewString(),
		to:        to,
		status:    "sending",
		createdAt: time.Now(),
	}
	p.notifications[n.reference] = n
	return n
}

func (p *MockProvider) get(reference string) (*notification, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.notifications[reference]
	return n, ok
}

// settle picks the final status after the simulated delivery delay and, if a
// callback URL is configured, reports it like the real provider does.
func (p *MockProvider) settle(n *notification) {
	p.mu.Lock()
	delay := p.minDelay
	if p.maxDelay > p.minDelay {
		delay += time.Duration(p.rng.Int63n(int64(p.maxDelay - p.minDelay)))
	}
	success := p.rng.Float64() < p.deliveryRate
	p.mu.Unlock()

	time.Sleep(delay)

	now := time.Now()
	p.mu.Lock()
	if success {
		n.status = "delivered"
	} else {
		n.status = "permanent-failure"
	}
	n.completedAt = &now
	cb := DeliveryCallback{
		Reference:   n.reference,
		To:          n.to,
		Status:      n.status,
		CreatedAt:   &n.createdAt,
		CompletedAt: n.completedAt,
	}
	p.mu.Unlock()

	log.Info().
		Str("reference", cb.Reference).
		Str("status", cb.Status).
		Dur("delay", delay).
		Msg("Notification settled")

	if p.callbackURL != "" {
		p.postCallback(&cb)
	}
}

func (p *MockProvider) postCallback(cb *DeliveryCallback) {
	body, err := json.Marshal(cb)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal callback")
		return
	}

	// the engine treats callbacks as at-least-once, so a flaky first
	// attempt is simply retried
	for attempt := 0; attempt < 3; attempt++ {
		resp, err := http.Post(p.callbackURL, "application/json", bytes.NewReader(body))
		if err != nil {
			log.Warn().Err(err).Int("attempt", attempt+1).Msg("Callback post failed")
			time.Sleep(time.Second)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode < 300 {
			log.Info().Str("reference", cb.Reference).Msg("Callback delivered")
			return
		}
		log.Warn().Int("status", resp.StatusCode).Str("reference", cb.Reference).Msg("Callback rejected")
		return
	}
}

type Handler struct {
	provider *MockProvider
}

func NewHandler(provider *MockProvider) *Handler {
	return &Handler{provider: provider}
}

// SendNotification accepts an SMS or email notification and settles it
// asynchronously.
func (h *Handler) SendNotification(c *gin.Context) {
	messageType := c.Param("type")
	if messageType != "sms" && messageType != "email" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "type must be sms or email"})
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	n := h.provider.accept(req.To)
	go h.provider.settle(n)

	log.Info().
		Str("client_reference", req.ClientReference).
		Str("reference", n.reference).
		Str("type", messageType).
		Str("template_id", req.TemplateID).
		Msg("Notification accepted")

	c.JSON(http.StatusCreated, SendResponse{Reference: n.reference, Status: "created"})
}

func (h *Handler) GetStatus(c *gin.Context) {
	reference := c.Param("reference")
	n, ok := h.provider.get(reference)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reference"})
		return
	}
	c.JSON(http.StatusOK, StatusResponse{
		Reference:   n.reference,
		Status:      n.status,
		CompletedAt: n.completedAt,
	})
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"timestamp":     time.Now(),
		"delivery_rate": h.provider.deliveryRate,
	})
}

// UpdateConfig tweaks the simulated delivery rate at runtime, handy for
// exercising the failure paths.
func (h *Handler) UpdateConfig(c *gin.Context) {
	var cfg struct {
		DeliveryRate *float64 `json:"delivery_rate"`
	}
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	if cfg.DeliveryRate != nil && *cfg.DeliveryRate >= 0 && *cfg.DeliveryRate <= 1.0 {
		h.provider.mu.Lock()
		h.provider.deliveryRate = *cfg.DeliveryRate
		h.provider.mu.Unlock()
		log.Info().Float64("rate", *cfg.DeliveryRate).Msg("Updated delivery rate")
	}

	c.JSON(http.StatusOK, gin.H{"delivery_rate": h.provider.deliveryRate})
}

func SetupRouter(handler *Handler) *gin.Engine {
	router := gin.Default()

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("Request processed")
	})

	v2 := router.Group("/v2")
	{
		v2.POST("/notifications/:type", handler.SendNotification)
		v2.GET("/notifications/status/:reference", handler.GetStatus)
		v2.PUT("/config", handler.UpdateConfig)
	}
	router.GET("/health", handler.HealthCheck)

	return router
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	port := getEnv("PORT", "8081")
	deliveryRate := getEnvFloat("DELIVERY_RATE", 0.95)
	minDelay := getEnvDuration("MIN_DELAY", 500*time.Millisecond)
	maxDelay := getEnvDuration("MAX_DELAY", 3*time.Second)
	callbackURL := getEnv("CALLBACK_URL", "")

	log.Info().
		Str("port", port).
		Float64("delivery_rate", deliveryRate).
		Str("callback_url", callbackURL).
		Msg("Starting mock notification provider")

	provider := NewMockProvider(deliveryRate, minDelay, maxDelay, callbackURL)
	router := SetupRouter(NewHandler(provider))

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var f float64
		if _, err := fmt.Sscanf(value, "%f", &f); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
