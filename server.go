package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"bitbucket.org/mmdatafocus/fleet_backend/compliance"
	"bitbucket.org/mmdatafocus/fleet_backend/config"
	"bitbucket.org/mmdatafocus/fleet_backend/middlewares"
	"bitbucket.org/mmdatafocus/fleet_backend/models/reports"
	"bitbucket.org/mmdatafocus/fleet_backend/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("fleet-backend")

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length", "Content-Disposition")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	r.Use(func(c *gin.Context) {
		if c.GetHeader("token") == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				token := strings.TrimSpace(auth[7:])
				if token != "" {
					c.Request.Header.Set("token", token)
				}
			}
		}
		c.Next()
	})
	r.Use(middlewares.SessionMiddleware())

	api := r.Group("/api/compliance", middlewares.RequireSession())
	api.POST("/alerts/run", runComplianceAlertsHandler)
	api.GET("/drivers/:id", driverComplianceHandler)
	api.GET("/summary", complianceSummaryHandler)
	api.GET("/report", complianceReportHandler)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}

	go func() {
		logger.Infof("fleet backend listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	// Connect backends after the listener is up (Cloud Run wants a fast bind).
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if err := config.EnsureAlertTopic(sigCtx); err != nil {
		config.LogError(logger, "server.go", "main", "ensure alert topic", nil, err)
	}

	<-sigCtx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("graceful shutdown failed: %v", err)
	}
}

func splitAndTrim(csv string) []string {
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func successEnvelope(data any, message string) gin.H {
	return gin.H{"success": true, "data": data, "message": message}
}

func errorEnvelope(c *gin.Context, status int, publicMsg string, err error) {
	body := gin.H{"success": false, "error": publicMsg}
	// Debug detail only outside production.
	if err != nil && !strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		body["details"] = err.Error()
	}
	c.JSON(status, body)
}

// POST /api/compliance/alerts/run
// On-demand alert pass for the caller's business.
func runComplianceAlertsHandler(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "compliance.alert_run")
	defer span.End()

	stats, err := compliance.RunAlerts(ctx)
	if err != nil {
		if errors.Is(err, compliance.ErrAlertRunInProgress) {
			errorEnvelope(c, http.StatusConflict, err.Error(), nil)
			return
		}
		config.LogError(config.GetLogger(), "server.go", "runComplianceAlertsHandler", "alert run", nil, err)
		errorEnvelope(c, http.StatusInternalServerError, "alert run failed", err)
		return
	}

	c.JSON(http.StatusOK, successEnvelope(stats,
		"alerts processed: "+strconv.Itoa(stats.Sent)+" sent, "+
			strconv.Itoa(stats.Skipped)+" skipped, "+
			strconv.Itoa(stats.Errors)+" errors"))
}

// GET /api/compliance/drivers/:id
func driverComplianceHandler(c *gin.Context) {
	var params struct {
		Id int `uri:"id" binding:"required,gt=0"`
	}
	if err := c.ShouldBindUri(&params); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			c.JSON(http.StatusBadRequest, gin.H{
				"success": false,
				"error":   "invalid driver id",
				"details": utils.ProcessValidationErrors(err),
			})
			return
		}
		errorEnvelope(c, http.StatusBadRequest, "invalid driver id", err)
		return
	}

	eval, err := compliance.EvaluateDriver(c.Request.Context(), params.Id)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			errorEnvelope(c, http.StatusNotFound, "driver not found", nil)
			return
		}
		config.LogError(config.GetLogger(), "server.go", "driverComplianceHandler", "evaluate driver", params.Id, err)
		errorEnvelope(c, http.StatusInternalServerError, "driver evaluation failed", err)
		return
	}

	c.JSON(http.StatusOK, successEnvelope(eval, ""))
}

// GET /api/compliance/summary
func complianceSummaryHandler(c *gin.Context) {
	summary, err := compliance.SummarizeBusinessCompliance(c.Request.Context())
	if err != nil {
		config.LogError(config.GetLogger(), "server.go", "complianceSummaryHandler", "summarize business", nil, err)
		errorEnvelope(c, http.StatusInternalServerError, "compliance summary failed", err)
		return
	}

	c.JSON(http.StatusOK, successEnvelope(summary, ""))
}

// GET /api/compliance/report
func complianceReportHandler(c *gin.Context) {
	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename=driver-compliance.xlsx")
	if err := reports.ExportDriverComplianceXlsx(c.Request.Context(), c.Writer); err != nil {
		config.LogError(config.GetLogger(), "server.go", "complianceReportHandler", "export report", nil, err)
		c.Status(http.StatusInternalServerError)
	}
}
