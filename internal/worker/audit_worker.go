package worker

import (
	"github.com/solvejet/pixe-whatspp-sub001/internal/service"
)

// StartAuditWorker registers audit handlers on the event dispatcher.
func StartAuditWorker(auditService *service.AuditService) {
	if auditService == nil {
		return
	}
	auditService.RegisterHandlers()
}
