package main

import (
	"fmt"
	"strings"

	"github.com/expressbasket/ordertrack/internal/geo"
	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/expressbasket/ordertrack/internal/tracking"
)

var stepLabels = map[models.OrderStatus]string{
	models.StatusConfirmed:      "Order confirmed",
	models.StatusPacked:         "Packed at store",
	models.StatusOutForDelivery: "Out for delivery",
	models.StatusDelivered:      "Delivered",
}

// renderView превращает состояние трекинга в текстовый кадр для терминала.
func renderView(orderID string, v tracking.View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", orderID)

	if v.Loading && v.Snapshot == nil {
		b.WriteString("  loading...\n")
		return b.String()
	}
	if v.Err != nil && v.Snapshot == nil {
		fmt.Fprintf(&b, "  error: %v\n", v.Err)
		return b.String()
	}
	if v.Snapshot == nil {
		b.WriteString("  no data\n")
		return b.String()
	}
	snap := v.Snapshot

	switch snap.Status {
	case models.StatusCancelled:
		b.WriteString("  CANCELLED\n")
	case models.StatusPending:
		b.WriteString("  awaiting confirmation\n")
	}

	for _, step := range v.Timeline {
		marker := "  "
		switch {
		case step.Current:
			marker = "->"
		case step.Completed:
			marker = " x"
		}
		fmt.Fprintf(&b, "  [%s] %s", marker, stepLabels[step.Status])
		if step.Timestamp != nil {
			fmt.Fprintf(&b, "  %s", step.Timestamp.Format("15:04"))
		}
		if step.Message != nil && *step.Message != "" {
			fmt.Fprintf(&b, "  (%s)", *step.Message)
		}
		b.WriteString("\n")
	}

	if !snap.RouteAllocated() {
		b.WriteString("  route not allocated yet\n")
	}

	if snap.ShowLiveMap() {
		fmt.Fprintf(&b, "  courier at %.5f, %.5f\n",
			snap.CurrentLocation.Lat, snap.CurrentLocation.Lng)
	}

	switch {
	case snap.ETA != nil:
		fmt.Fprintf(&b, "  ETA: %s\n", *snap.ETA)
	case snap.Distance != nil:
		fmt.Fprintf(&b, "  distance: %s\n", *snap.Distance)
	case v.FallbackDistanceMeters != nil:
		fmt.Fprintf(&b, "  distance: %s\n", geo.FormatDistance(*v.FallbackDistanceMeters))
	}

	if snap.DeliveryPartner != nil {
		fmt.Fprintf(&b, "  courier: %s", snap.DeliveryPartner.Name)
		if snap.DeliveryPartner.Vehicle != "" {
			fmt.Fprintf(&b, " (%s)", snap.DeliveryPartner.Vehicle)
		}
		b.WriteString("\n")
	}

	if snap.CanRate() {
		b.WriteString("  rate your delivery: POST /v1/orders/{id}/rating\n")
	}
	if v.Err != nil {
		fmt.Fprintf(&b, "  last refresh failed: %v\n", v.Err)
	}
	return b.String()
}
