package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rkr-ui/BOQMate/dto"
	"github.com/rkr-ui/BOQMate/shared"
)

type SecurityHandler struct {
	monitorSvc SecurityMonitorInterface
}

func NewSecurityHandler(monitorSvc SecurityMonitorInterface) *SecurityHandler {
	return &SecurityHandler{
		monitorSvc: monitorSvc,
	}
}

func (h *SecurityHandler) Report(c *fiber.Ctx) error {
	req := dto.SecurityReportRequest{
		WindowSeconds: c.QueryInt("window", 3600),
	}
	if req.WindowSeconds <= 0 || req.WindowSeconds > 86400 {
		return shared.NewBadRequestError(nil, "window must be between 1 and 86400 seconds")
	}

	report := h.monitorSvc.Report(time.Duration(req.WindowSeconds) * time.Second)
	return shared.ResponseJSON(c, http.StatusOK, "Success", report)
}
