package geo

import "math"

const earthRadiusKm = 6371.0

// Locations2Degrees 计算两点之间的大圆角距离（度）
func Locations2Degrees(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	return c * 180 / math.Pi
}

// DegreesToKm 角距离转换为沿地表的公里数
func DegreesToKm(deg float64) float64 {
	return deg * math.Pi / 180 * earthRadiusKm
}

// Azimuth 计算从点 1 指向点 2 的方位角（度，北起顺时针，[0,360)）
func Azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	az := math.Atan2(y, x) * 180 / math.Pi
	return normalizeDegrees(az)
}

// BackAzimuth 计算从点 2 指向点 1 的方位角（度）
func BackAzimuth(lat1, lon1, lat2, lon2 float64) float64 {
	return Azimuth(lat2, lon2, lat1, lon1)
}

// DistAzimuth 一次计算角距离、方位角和反方位角
func DistAzimuth(lat1, lon1, lat2, lon2 float64) (distDeg, az, baz float64) {
	distDeg = Locations2Degrees(lat1, lon1, lat2, lon2)
	az = Azimuth(lat1, lon1, lat2, lon2)
	baz = BackAzimuth(lat1, lon1, lat2, lon2)
	return
}

// LonDiff 将经度差归一化到 [-180, 180]
func LonDiff(lon1, lon2 float64) float64 {
	d := math.Mod(lon2-lon1, 360)
	if d > 180 {
		d -= 360
	} else if d < -180 {
		d += 360
	}
	return d
}

func normalizeDegrees(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	return deg
}

// ROI 地理感兴趣区域（矩形或圆形）
type ROI interface {
	Contains(lat, lon float64) bool
}

// Rectangle 矩形 ROI。MinLon > MaxLon 时表示跨越 ±180° 经线
type Rectangle struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// Contains 判断点是否在矩形内（跨经线安全）
func (r Rectangle) Contains(lat, lon float64) bool {
	if lat < r.MinLat || lat > r.MaxLat {
		return false
	}
	width := normalizeDegrees(r.MaxLon - r.MinLon)
	if width == 0 && r.MinLon != r.MaxLon {
		// 经度跨度正好一圈
		width = 360
	}
	offset := normalizeDegrees(lon - r.MinLon)
	return offset <= width
}

// Circle 圆形 ROI，半径以角距离（度）表示
type Circle struct {
	CenterLat float64 `json:"center_lat"`
	CenterLon float64 `json:"center_lon"`
	RadiusDeg float64 `json:"radius_deg"`
}

// Contains 判断点是否在圆内（跨经线安全）
func (c Circle) Contains(lat, lon float64) bool {
	return Locations2Degrees(c.CenterLat, c.CenterLon, lat, lon) <= c.RadiusDeg
}
