package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/stashworks/jobhub/internal/subscription/domain"
	"go.uber.org/zap"
)

func (s *Server) RegisterBillingRoutes() {
	billing := s.engine.Group("/v1/billing")

	billing.POST("/initiate", s.initiateBilling)
	billing.POST("/renew", s.initiateAction(subscriptiondomain.ActionRenew))
	billing.POST("/change", s.initiateAction(subscriptiondomain.ActionChange))
	billing.POST("/confirm", s.confirmPayment)
	billing.POST("/cancel", s.cancelSubscription)
	billing.POST("/reactivate", s.reactivateSubscription)
	billing.POST("/reset", s.resetSubscription)
	billing.POST("/usage", s.recordUsage)
	billing.GET("/subscription", s.getSubscription)
}

func (s *Server) initiateBilling(c *gin.Context) {
	var req subscriptiondomain.InitiateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.OrgID == "" || req.Wallet == "" || req.Action == "" {
		c.JSON(http.StatusBadRequest, subscriptiondomain.Fail("org_id, wallet and action are required"))
		return
	}

	res, err := s.subscriptionSvc.Initiate(c.Request.Context(), req)
	s.respond(c, res, err)
}

// initiateAction pins the billing action so /renew and /change cannot be
// repurposed by the request body.
func (s *Server) initiateAction(action subscriptiondomain.Action) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req subscriptiondomain.InitiateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		req.Action = action
		if req.OrgID == "" || req.Wallet == "" {
			c.JSON(http.StatusBadRequest, subscriptiondomain.Fail("org_id and wallet are required"))
			return
		}

		res, err := s.subscriptionSvc.Initiate(c.Request.Context(), req)
		s.respond(c, res, err)
	}
}

// confirmPayment is the webhook target. It always answers 200 on a
// handled request so the gateway stops retrying; the result body says
// whether the confirmation matched anything.
func (s *Server) confirmPayment(c *gin.Context) {
	var req subscriptiondomain.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	res, err := s.subscriptionSvc.Confirm(c.Request.Context(), req)
	if err != nil {
		s.log.Error("confirm failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, subscriptiondomain.Fail("internal error"))
		return
	}
	c.JSON(http.StatusOK, res)
}

type orgActionRequest struct {
	OrgID  string `json:"org_id"`
	Wallet string `json:"wallet"`
}

func (s *Server) cancelSubscription(c *gin.Context) {
	var req orgActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.subscriptionSvc.Cancel(c.Request.Context(), req.OrgID, req.Wallet)
	s.respond(c, res, err)
}

func (s *Server) reactivateSubscription(c *gin.Context) {
	var req orgActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.subscriptionSvc.Reactivate(c.Request.Context(), req.OrgID, req.Wallet)
	s.respond(c, res, err)
}

func (s *Server) resetSubscription(c *gin.Context) {
	var req orgActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.subscriptionSvc.Reset(c.Request.Context(), req.OrgID, req.Wallet)
	s.respond(c, res, err)
}

func (s *Server) recordUsage(c *gin.Context) {
	var req subscriptiondomain.UsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := s.quotaSvc.RecordUsage(c.Request.Context(), req)
	s.respond(c, res, err)
}

func (s *Server) getSubscription(c *gin.Context) {
	orgID := strings.TrimSpace(c.Query("org_id"))
	if orgID == "" {
		c.JSON(http.StatusBadRequest, subscriptiondomain.Fail("org_id is required"))
		return
	}

	ctx := c.Request.Context()
	sub, err := s.repo.FindByOrgID(ctx, s.db, orgID)
	if err != nil {
		s.log.Error("subscription lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, subscriptiondomain.Fail("internal error"))
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, subscriptiondomain.Fail("no subscription found for this organization"))
		return
	}

	remaining, err := s.quotaSvc.Remaining(ctx, orgID, "veri")
	if err != nil {
		s.log.Error("quota lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, subscriptiondomain.Fail("internal error"))
		return
	}

	c.JSON(http.StatusOK, subscriptiondomain.Ok("ok", map[string]any{
		"subscription":   sub,
		"veri_remaining": remaining,
	}))
}

// respond maps the uniform billing result onto transport status codes:
// business failures are 422, infrastructure faults 500.
func (s *Server) respond(c *gin.Context, res subscriptiondomain.Result, err error) {
	if err != nil {
		s.log.Error("billing operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, subscriptiondomain.Fail("internal error"))
		return
	}
	if !res.Success {
		c.JSON(http.StatusUnprocessableEntity, res)
		return
	}
	c.JSON(http.StatusOK, res)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, subscriptiondomain.Fail("invalid request: "+err.Error()))
}
