package controllers

import (
	"errors"
	"net/http"
	"time"

	"github.com/Thenameisdebojit/farmora-sub001/services"
	"github.com/Thenameisdebojit/farmora-sub001/utils"
	"github.com/Thenameisdebojit/farmora-sub001/workers"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AdminController struct {
	scheduler *workers.Scheduler
	analytics *services.AnalyticsService
}

func NewAdminController(scheduler *workers.Scheduler, analytics *services.AnalyticsService) *AdminController {
	return &AdminController{
		scheduler: scheduler,
		analytics: analytics,
	}
}

// GetJobs lists the scheduled jobs and their last results.
// @Router /admin/jobs [get]
func (ac *AdminController) GetJobs(c *gin.Context) {
	utils.SuccessResponse(c, "Jobs retrieved successfully", ac.scheduler.Status())
}

// RunJob runs a job synchronously. A job that is already running is not
// started again.
// @Param name path string true "Job name"
// @Router /admin/jobs/{name}/run [post]
func (ac *AdminController) RunJob(c *gin.Context) {
	name := c.Param("name")
	logger := logrus.WithFields(logrus.Fields{
		"job":    name,
		"userId": utils.GetUserID(c),
	})
	logger.Info("Manual job run requested")

	err := ac.scheduler.RunNow(c.Request.Context(), name)
	switch {
	case err == nil:
		utils.SuccessResponse(c, "Job completed", jobStatus(ac.scheduler, name))
	case errors.Is(err, workers.ErrUnknownJob):
		utils.NotFoundResponse(c, "Job")
	case errors.Is(err, workers.ErrJobBusy):
		utils.ConflictResponse(c, "Job is already running")
	case errors.Is(err, workers.ErrSchedulerStopped):
		utils.ErrorResponse(c, http.StatusServiceUnavailable, "Scheduler is shutting down", nil)
	default:
		logger.WithError(err).Warn("Manual job run failed")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Job failed", err.Error())
	}
}

func jobStatus(s *workers.Scheduler, name string) *workers.JobStatus {
	for _, st := range s.Status() {
		if st.Name == name {
			return &st
		}
	}
	return nil
}

// defaultAnalyticsRange covers the last 7 days up to the current minute, so
// repeated default requests share a cache key.
func defaultAnalyticsRange(now time.Time) (time.Time, time.Time) {
	end := now.Truncate(time.Minute)
	return end.AddDate(0, 0, -7), end
}

// GetAnalytics summarises notifications created in [start, end). Both bounds
// are RFC3339; the default range is the last 7 days.
// @Param start query string false "Range start (RFC3339)"
// @Param end query string false "Range end (RFC3339)"
// @Router /admin/analytics [get]
func (ac *AdminController) GetAnalytics(c *gin.Context) {
	start, end := defaultAnalyticsRange(time.Now())

	if raw := c.Query("start"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.BadRequestResponse(c, "start must be an RFC3339 timestamp")
			return
		}
		start = parsed
	}
	if raw := c.Query("end"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			utils.BadRequestResponse(c, "end must be an RFC3339 timestamp")
			return
		}
		end = parsed
	}

	summary, err := ac.analytics.Summary(c.Request.Context(), start, end)
	if err != nil {
		utils.HandleServiceError(c, err)
		return
	}
	utils.SuccessResponse(c, "Analytics retrieved successfully", summary)
}
