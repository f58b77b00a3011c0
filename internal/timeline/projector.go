// Package timeline projects a snapshot's status history onto the fixed
// four-stage happy path rendered by the storefront timeline widget.
package timeline

import (
	"time"

	"github.com/expressbasket/ordertrack/internal/models"
)

// CanonicalSteps — порядок этапов на таймлайне. pending и cancelled живут
// вне таймлайна и обрабатываются снаружи проектора.
var CanonicalSteps = []models.OrderStatus{
	models.StatusConfirmed,
	models.StatusPacked,
	models.StatusOutForDelivery,
	models.StatusDelivered,
}

type Step struct {
	Status    models.OrderStatus `json:"status"`
	Completed bool               `json:"isCompleted"`
	Current   bool               `json:"isCurrent"`
	Timestamp *time.Time         `json:"timestamp,omitempty"`
	Message   *string            `json:"message,omitempty"`
}

// Project maps (history, current status) to render-ready steps. History is
// treated as unordered evidence: output order is always CanonicalSteps order,
// and a step is never both completed and current. Pure, safe on every render.
func Project(history []models.StatusEntry, current models.OrderStatus) []Step {
	byStatus := make(map[models.OrderStatus]models.StatusEntry, len(history))
	for _, e := range history {
		// Первая запись по статусу выигрывает: история append-only,
		// статус в ней встречается не более одного раза.
		if _, ok := byStatus[e.Status]; !ok {
			byStatus[e.Status] = e
		}
	}

	out := make([]Step, 0, len(CanonicalSteps))
	for _, st := range CanonicalSteps {
		step := Step{Status: st}
		if e, ok := byStatus[st]; ok {
			step.Completed = true
			ts := e.Timestamp
			step.Timestamp = &ts
			step.Message = e.Message
		}
		step.Current = current == st && !step.Completed
		out = append(out, step)
	}
	return out
}
