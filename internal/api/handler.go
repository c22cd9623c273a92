package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"registration-service/config"
	"registration-service/internal/models"
	"registration-service/internal/payment"
	"registration-service/internal/service"
	"registration-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	events    *config.EventConfig
	carts     *service.CartService
	checkouts *service.CheckoutService
}

// NewHandler creates a new HTTP handler
func NewHandler(events *config.EventConfig, carts *service.CartService, checkouts *service.CheckoutService) *Handler {
	return &Handler{
		events:    events,
		carts:     carts,
		checkouts: checkouts,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/carts", h.createCart)
		v1.GET("/carts/:id", h.getCart)
		v1.POST("/carts/:id/registrations", h.addRegistration)
		v1.DELETE("/carts/:id/registrations/:rid", h.removeRegistration)
		v1.GET("/carts/:id/pricing-result", h.getPricingResult)
		v1.GET("/carts/:id/checkout-methods", h.getCheckoutMethods)
		v1.POST("/carts/:id/checkout", h.createCheckout)
		v1.POST("/checkouts/:id/update", h.updateCheckout)
		v1.PUT("/checkouts/:id/cancel", h.cancelCheckout)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createCart returns the empty cart for an event, creating it if needed.
func (h *Handler) createCart(c *gin.Context) {
	eventID := c.Query("event_id")
	if eventID == "" || h.events.Get(eventID) == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unknown event",
		})
		return
	}

	data := h.carts.EmptyCart(eventID)
	cart, err := h.carts.Save(c.Request.Context(), data)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":   cart.ID,
		"cart": data,
	})
}

// getCart handles get cart by hash
func (h *Handler) getCart(c *gin.Context) {
	data, err := h.carts.GetData(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   c.Param("id"),
		"cart": data,
	})
}

// addRegistration adds a registration change to a cart. Carts are
// immutable, so the response carries the new cart and its new hash.
func (h *Handler) addRegistration(c *gin.Context) {
	data, err := h.carts.GetData(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	var cr models.CartRegistration
	if err := c.ShouldBindJSON(&cr); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}

	newData, err := data.AddRegistration(cr)
	if err != nil {
		handleError(c, err)
		return
	}

	cart, err := h.carts.Save(c.Request.Context(), newData)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   cart.ID,
		"cart": newData,
	})
}

// removeRegistration removes a registration change from a cart.
func (h *Handler) removeRegistration(c *gin.Context) {
	rid, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid registration ID",
		})
		return
	}

	data, err := h.carts.GetData(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	newData := data.RemoveRegistration(rid)
	cart, err := h.carts.Save(c.Request.Context(), newData)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"id":   cart.ID,
		"cart": newData,
	})
}

// getPricingResult prices a cart
func (h *Handler) getPricingResult(c *gin.Context) {
	result, err := h.checkouts.PriceCart(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// getCheckoutMethods lists the ways a cart can be checked out
func (h *Handler) getCheckoutMethods(c *gin.Context) {
	methods, err := h.checkouts.Methods(c.Request.Context(), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout_methods": methods,
	})
}

// createCheckout opens a checkout for a cart with a payment provider
func (h *Handler) createCheckout(c *gin.Context) {
	svc := c.Query("service")
	if svc == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing service",
		})
		return
	}

	checkout, respData, err := h.checkouts.Create(c.Request.Context(), c.Param("id"), svc, c.Query("method"))
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"checkout": checkout,
		"data":     respData,
	})
}

// updateCheckout passes client-submitted data to the checkout's provider
func (h *Handler) updateCheckout(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid checkout ID",
		})
		return
	}

	var body map[string]interface{}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	checkout, respData, err := h.checkouts.Update(c.Request.Context(), id, body)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout": checkout,
		"data":     respData,
	})
}

// cancelCheckout cancels a checkout
func (h *Handler) cancelCheckout(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid checkout ID",
		})
		return
	}

	checkout, err := h.checkouts.Cancel(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"checkout": checkout,
	})
}

// handleError maps domain errors to HTTP responses.
func handleError(c *gin.Context, err error) {
	var (
		conflict   *service.CartConflictError
		invalid    *models.InvalidChangeError
		cartErr    *models.CartError
		pricingErr *models.PricingError
		stateErr   *payment.StateError
		cancelErr  *payment.CancelError
		valErr     *payment.ValidationError
	)

	switch {
	case errors.Is(err, models.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Not found",
		})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{
			"error":            "Cart is out of date",
			"registration_ids": conflict.RegistrationIDs,
		})
	case errors.As(err, &invalid):
		c.JSON(http.StatusConflict, gin.H{
			"error":            "Changes can no longer be applied",
			"registration_ids": []uuid.UUID{invalid.RegistrationID},
		})
	case errors.As(err, &cancelErr), errors.As(err, &stateErr):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Conflicting checkout state",
			"details": err.Error(),
		})
	case errors.As(err, &valErr):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Invalid checkout data",
			"details": err.Error(),
		})
	case errors.As(err, &cartErr), errors.As(err, &pricingErr),
		errors.Is(err, service.ErrEmptyCart),
		errors.Is(err, models.ErrEmptyPricing),
		errors.Is(err, payment.ErrProviderNotFound):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Internal error",
			"details": err.Error(),
		})
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
