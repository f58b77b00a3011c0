package geo

import (
	"fmt"
	"math"

	"github.com/expressbasket/ordertrack/internal/models"
	"github.com/pkg/errors"
)

// Сфера, не эллипсоид: для бейджа расстояния последней мили этого достаточно.
const earthRadiusMeters = 6371000.0

var ErrInvalidCoordinates = errors.New("invalid coordinates")

// ValidatePoint проверяет диапазоны и конечность координат.
func ValidatePoint(p models.GeoPoint) error {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return errors.Wrap(ErrInvalidCoordinates, "non-finite value")
	}
	if p.Lat < -90 || p.Lat > 90 {
		return errors.Wrapf(ErrInvalidCoordinates, "lat %v out of range", p.Lat)
	}
	if p.Lng < -180 || p.Lng > 180 {
		return errors.Wrapf(ErrInvalidCoordinates, "lng %v out of range", p.Lng)
	}
	return nil
}

// DistanceMeters computes the great-circle (Haversine) distance between two
// points. Always >= 0, zero iff the points are identical, symmetric.
func DistanceMeters(a, b models.GeoPoint) (float64, error) {
	if err := ValidatePoint(a); err != nil {
		return 0, err
	}
	if err := ValidatePoint(b); err != nil {
		return 0, err
	}
	if a == b {
		return 0, nil
	}

	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)

	sinLat := math.Sin(dLat / 2)
	sinLng := math.Sin(dLng / 2)

	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLng*sinLng
	// Около антиподов ошибка округления выталкивает h чуть выше 1,
	// и Asin(Sqrt(h)) даёт NaN.
	if h > 1 {
		h = 1
	}
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h)), nil
}

// FormatDistance renders meters as a short badge string.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
