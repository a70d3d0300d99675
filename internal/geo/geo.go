// Package geo содержит геодезические вычисления, общие для движка
// синхронизации и SOS координатора: расстояние по большому кругу,
// округление координат для ключей кэша и оценка времени пешего хода.
package geo

import (
	"fmt"
	"math"
	"time"
)

const earthRadiusM = 6371000.0

// Point — координата в WGS84.
type Point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// DistanceM возвращает расстояние между двумя точками в метрах (haversine).
func DistanceM(a, b Point) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLon := (b.Lon - a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return earthRadiusM * c
}

// RoundCoord округляет координату до 4 знаков (~11 м по широте).
func RoundCoord(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// CacheKey строит детерминированный ключ для пары точек с округлением
// до точности ~11 м, чтобы близкие запросы попадали в одну запись кэша.
func CacheKey(from, to Point) string {
	return fmt.Sprintf("%.4f,%.4f|%.4f,%.4f",
		RoundCoord(from.Lat), RoundCoord(from.Lon),
		RoundCoord(to.Lat), RoundCoord(to.Lon))
}

// WalkingETA возвращает оценку пешего хода на расстояние distanceM
// при скорости speedKmh, округленную вверх до целых минут.
func WalkingETA(distanceM, speedKmh float64) int {
	if speedKmh <= 0 || distanceM <= 0 {
		return 0
	}
	metersPerMinute := speedKmh * 1000 / 60
	return int(math.Ceil(distanceM / metersPerMinute))
}

// Age возвращает возраст отметки времени в epoch-мс относительно now.
func Age(now time.Time, epochMs int64) time.Duration {
	return now.Sub(time.UnixMilli(epochMs))
}
