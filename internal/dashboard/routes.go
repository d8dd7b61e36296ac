package dashboard

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/zulandar/marketyard/internal/apperr"
	"github.com/zulandar/marketyard/internal/commission"
	"github.com/zulandar/marketyard/internal/models"
	"github.com/zulandar/marketyard/internal/participation"
	"github.com/zulandar/marketyard/internal/session"
	"github.com/zulandar/marketyard/internal/stock"
)

// registerRoutes sets up all API routes on the Gin router.
func (s *server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", s.handleHealth)

	api := router.Group("/api")

	api.GET("/sessions", s.handleSessionList)
	api.POST("/sessions", s.handleSessionCreate)
	api.POST("/sessions/ensure", s.handleSessionEnsure)
	api.GET("/sessions/:id", s.handleSessionDetail)
	api.DELETE("/sessions/:id", s.handleSessionDelete)
	api.POST("/sessions/:id/activate", s.handleSessionActivate)

	api.PUT("/sessions/:id/participations/:grower", s.handleParticipationSet)
	api.POST("/sessions/:id/participations/:grower/products", s.handleParticipationProducts)
	api.POST("/sessions/:id/participations/viewed", s.handleParticipationViewed)

	api.POST("/sessions/:id/turnover", s.handleTurnover)
	api.GET("/sessions/:id/commissions", s.handleCommissions)
	api.POST("/sessions/:id/validate", s.handleValidate)

	api.POST("/stock-requests", s.handleStockSubmit)
	api.GET("/stock-requests/pending", s.handleStockPending)
	api.POST("/stock-requests/resolve", s.handleStockResolve)

	api.GET("/alerts", s.handleAlerts)
	api.GET("/alerts/stream", s.handleAlertStream)
}

// respondError writes err as JSON with the status its kind maps to.
func respondError(c *gin.Context, err error) {
	status := apperr.Status(err)
	if status >= http.StatusInternalServerError {
		c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error(), "kind": apperr.KindOf(err)})
}

func badRequest(c *gin.Context, err error) {
	respondError(c, apperr.Validation("dashboard: bind", "%v", err))
}

func (s *server) handleHealth(c *gin.Context) {
	sqlDB, err := s.db.DB()
	if err == nil {
		err = sqlDB.PingContext(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *server) handleSessionList(c *gin.Context) {
	sessions, err := session.List(s.db, session.ListFilters{
		Status: models.SessionStatus(c.Query("status")),
		From:   c.Query("from"),
		To:     c.Query("to"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sessions)
}

type createSessionRequest struct {
	Name           string          `json:"name" binding:"required"`
	Description    string          `json:"description"`
	Location       string          `json:"location"`
	Date           string          `json:"date" binding:"required"`
	StartTime      string          `json:"start_time" binding:"required"`
	EndTime        string          `json:"end_time" binding:"required"`
	Timezone       string          `json:"timezone"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
}

func (s *server) handleSessionCreate(c *gin.Context) {
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	tz := req.Timezone
	if tz == "" {
		tz = s.market.Timezone
	}
	created, err := session.Create(s.db, session.CreateOpts{
		Name:           req.Name,
		Description:    req.Description,
		Location:       req.Location,
		Date:           req.Date,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		Timezone:       tz,
		CommissionRate: req.CommissionRate,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) handleSessionEnsure(c *gin.Context) {
	sess, created, err := session.EnsureNextRecurringSession(s.db.WithContext(c.Request.Context()), s.market, s.clock.Now())
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"session": sess, "created": created})
}

func (s *server) handleSessionDetail(c *gin.Context) {
	sess, err := session.Get(s.db, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	parts, err := participation.ListBySession(s.db, sess.ID, "")
	if err != nil {
		respondError(c, err)
		return
	}
	sess.Participations = parts
	c.JSON(http.StatusOK, sess)
}

func (s *server) handleSessionDelete(c *gin.Context) {
	if err := session.Delete(s.db, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *server) handleSessionActivate(c *gin.Context) {
	if err := session.Activate(s.db, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	sess, err := session.Get(s.db, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type participationRequest struct {
	Status models.ParticipationStatus `json:"status" binding:"required"`
}

func (s *server) handleParticipationSet(c *gin.Context) {
	var req participationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := participation.Set(s.db, c.Param("id"), c.Param("grower"), req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type productsRequest struct {
	Products []participation.ProductLine `json:"products"`
}

func (s *server) handleParticipationProducts(c *gin.Context) {
	var req productsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	p, err := participation.ConfirmViaProductSubmission(s.db, c.Param("grower"), c.Param("id"), req.Products)
	if err != nil {
		respondError(c, err)
		return
	}
	lines, err := participation.Products(s.db, p.SessionID, p.GrowerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"participation": p, "products": lines})
}

func (s *server) handleParticipationViewed(c *gin.Context) {
	n, err := participation.MarkViewed(s.db, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"marked": n})
}

type turnoverRequest struct {
	GrowerID string           `json:"grower_id" binding:"required"`
	Turnover *decimal.Decimal `json:"turnover" binding:"required"`
	Rate     *decimal.Decimal `json:"rate"`
}

func (s *server) handleTurnover(c *gin.Context) {
	var req turnoverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	rec, err := commission.RecordTurnover(s.db, c.Param("id"), req.GrowerID, *req.Turnover, req.Rate)
	if err != nil {
		respondError(c, err)
		return
	}
	if rec == nil {
		c.JSON(http.StatusOK, gin.H{"deleted": true})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *server) handleCommissions(c *gin.Context) {
	sum, err := commission.Summarize(s.db, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (s *server) handleValidate(c *gin.Context) {
	force := false
	if v := c.Query("force"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, err)
			return
		}
		force = b
	}
	report, err := commission.Validate(s.db, c.Param("id"), force)
	if err != nil {
		respondError(c, err)
		return
	}
	if report.Outcome == commission.OutcomeClosed {
		s.log.Infow("session closed",
			"session", report.SessionID,
			"validated", len(report.WithTurnover),
			"declined", len(report.WithoutTurnover),
			"commission", report.TotalCommission.String(),
		)
	}
	c.JSON(http.StatusOK, report)
}

type stockSubmitRequest struct {
	GrowerID  string           `json:"grower_id" binding:"required"`
	ProductID string           `json:"product_id" binding:"required"`
	Stock     *int             `json:"stock"`
	Price     *decimal.Decimal `json:"price"`
	Note      string           `json:"note"`
}

func (s *server) handleStockSubmit(c *gin.Context) {
	var req stockSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	r, err := stock.Submit(s.db, req.GrowerID, req.ProductID, stock.Change{
		Stock: req.Stock,
		Price: req.Price,
		Note:  req.Note,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *server) handleStockPending(c *gin.Context) {
	if c.Query("grouped") == "true" {
		groups, err := stock.ListPendingGroupedByGrower(s.db)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, groups)
		return
	}
	reqs, err := stock.ListPending(s.db, c.Query("grower"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

type resolveRequest struct {
	IDs      []string       `json:"ids" binding:"required,min=1"`
	Decision stock.Decision `json:"decision" binding:"required"`
	AdminID  string         `json:"admin_id" binding:"required"`
	Reason   string         `json:"reason"`
}

func (s *server) handleStockResolve(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	res, err := stock.BatchResolve(s.db, s.catalog, req.IDs, req.Decision, req.AdminID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	if len(res.Failed) > 0 {
		s.log.Warnw("stock batch partially failed", "resolved", res.Resolved, "failed", len(res.Failed))
	}
	c.JSON(http.StatusOK, res)
}

func (s *server) handleAlerts(c *gin.Context) {
	a, err := loadAlerts(s.db)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}
