package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	payops "github.com/Khalil2008k/guild-payops"
	"github.com/Khalil2008k/guild-payops/api/middleware"
	"github.com/Khalil2008k/guild-payops/config"
	"github.com/Khalil2008k/guild-payops/internal/apierror"
)

type Api struct {
	payops *payops.Payops
	router *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.GET("/queue", a.GetQueue)
	router.GET("/queue/stats", a.GetQueueStats)
	router.GET("/queue/:id", a.GetQueueItem)
	router.POST("/queue", a.EnqueuePayment)
	router.POST("/queue/:id/assign", a.AssignItem)
	router.POST("/queue/:id/reassign", a.ReassignItem)
	router.POST("/queue/:id/start", a.StartProcessing)
	router.POST("/queue/:id/complete", a.CompleteItem)
	router.POST("/queue/:id/fail", a.FailItem)
	router.POST("/queue/:id/dispute", a.DisputeItem)
	router.POST("/queue/:id/resolve", a.ResolveItem)

	router.GET("/release-timers", a.GetReleaseTimers)
	router.POST("/release-timers", a.ScheduleReleaseTimer)
	router.POST("/release-timers/:id/cancel", a.CancelReleaseTimer)

	router.GET("/reconciliation/balance", a.GetBalanceSnapshot)
	router.GET("/reconciliation/runs", a.GetReconciliationRuns)
	router.POST("/reconciliation/run", a.RunReconciliation)

	router.GET("/audit-log", a.GetAuditLog)
	return a.router
}

func NewAPI(p *payops.Payops) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	r := gin.Default()
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{payops: p, router: r}
}

// handleError maps service errors onto HTTP statuses; lost assignment races
// and bad transitions come back as 409s with the item's live state attached.
func handleError(c *gin.Context, err error) {
	status := apierror.MapErrorToHTTPStatus(err)
	var apiErr apierror.APIError
	if errors.As(err, &apiErr) {
		c.JSON(status, gin.H{"error": apiErr.Message, "code": apiErr.Code, "details": apiErr.Details})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
