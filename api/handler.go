package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/swdee/go-roadhazard/report"
)

// ReportService is the hazard report logic behind the handlers
type ReportService interface {
	Submit(ctx context.Context, n report.Notification) (*report.SubmitResult, error)
	List(ctx context.Context) ([]report.Report, error)
	CleanupResolved(ctx context.Context) (int, error)
	Delete(ctx context.Context, id string) error
}

type Handler struct {
	reports ReportService
	log     zerolog.Logger
}

func NewHandler(reports ReportService, log zerolog.Logger) *Handler {
	return &Handler{
		reports: reports,
		log:     log,
	}
}

// Register adds the report routes
func (h *Handler) Register(r gin.IRouter) {
	r.POST("/hazard-notification", h.createNotification)
	r.GET("/hazard-reports", h.listReports)
	r.DELETE("/cleanup-resolved-hazards", h.cleanupResolved)
	r.DELETE("/hazard-reports/:id", h.deleteReport)
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) createNotification(c *gin.Context) {

	var n report.Notification
	if err := c.ShouldBindJSON(&n); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	res, err := h.reports.Submit(c.Request.Context(), n)
	if err != nil {
		h.fail(c, err, "Failed to process notification")
		return
	}

	c.JSON(http.StatusOK, res)
}

func (h *Handler) listReports(c *gin.Context) {

	reports, err := h.reports.List(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to fetch hazard reports")
		return
	}

	c.JSON(http.StatusOK, reports)
}

func (h *Handler) cleanupResolved(c *gin.Context) {

	removed, err := h.reports.CleanupResolved(c.Request.Context())
	if err != nil {
		h.fail(c, err, "Failed to cleanup resolved hazards")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":       true,
		"message":       fmt.Sprintf("Removed %d resolved hazards", removed),
		"removed_count": removed,
	})
}

func (h *Handler) deleteReport(c *gin.Context) {

	id := c.Param("id")

	if err := h.reports.Delete(c.Request.Context(), id); err != nil {
		if errors.Is(err, report.ErrNotFound) {
			c.JSON(http.StatusNotFound,
				errorResponse(fmt.Sprintf("Hazard report with ID %s not found", id)))
			return
		}
		h.fail(c, err, "Failed to delete hazard report")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": fmt.Sprintf("Hazard report %s deleted successfully", id),
	})
}

// fail maps service errors to a status code, internal errors are logged
// and not shown to the client
func (h *Handler) fail(c *gin.Context, err error, msg string) {

	switch {
	case errors.Is(err, report.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, report.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, errorResponse(msg))
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"detail": message,
	}
}
