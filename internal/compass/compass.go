// Package compass holds the geodesic helpers used to turn a panorama heading
// into a move: forward azimuth and distance on the WGS84 ellipsoid, and the
// eight-way classification of a heading relative to the direction of travel.
package compass

import "math"

// #region ellipsoid
const (
	wgs84A = 6378137.0
	wgs84F = 1 / 298.257223563
	wgs84B = wgs84A * (1 - wgs84F)

	vincentyMaxIter = 200
	vincentyEps     = 1e-12
)

// #endregion ellipsoid

// #region direction
// Direction is one of eight 45-degree sectors relative to a forward azimuth.
type Direction int

const (
	Front Direction = iota
	FrontLeft
	Left
	BackLeft
	Back
	BackRight
	Right
	FrontRight
)

var directionNames = [...]string{
	"FRONT", "FRONT_LEFT", "LEFT", "BACK_LEFT",
	"BACK", "BACK_RIGHT", "RIGHT", "FRONT_RIGHT",
}

func (d Direction) String() string {
	if d < 0 || int(d) >= len(directionNames) {
		return "UNKNOWN"
	}
	return directionNames[d]
}

// ParseDirection maps a direction name back to its value.
func ParseDirection(s string) (Direction, bool) {
	for i, name := range directionNames {
		if name == s {
			return Direction(i), true
		}
	}
	return 0, false
}

// #endregion direction

// #region relative
// RelativeDirection classifies heading against forward. Both are degrees
// clockwise from north; the clockwise offset is bucketed into 45-degree
// sectors centred on the Direction constants, in declaration order.
func RelativeDirection(forward, heading float64) Direction {
	rel := Normalize(Normalize(heading) - Normalize(forward))
	idx := int(math.Floor((rel+22.5)/45)) % 8
	return Direction(idx)
}

// Normalize folds any angle into [0, 360).
func Normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	if deg >= 360 {
		deg = 0
	}
	return deg
}

// AngularDistance is the smallest circular difference between two bearings,
// in [0, 180].
func AngularDistance(a, b float64) float64 {
	d := math.Abs(Normalize(a) - Normalize(b))
	if d > 180 {
		d = 360 - d
	}
	return d
}

// #endregion relative

// #region geodesic
// Azimuth returns the forward azimuth in degrees [0, 360) from point 1 to
// point 2 on WGS84. Coordinates are (longitude, latitude) in degrees.
func Azimuth(lon1, lat1, lon2, lat2 float64) float64 {
	az, _ := inverse(lon1, lat1, lon2, lat2)
	return az
}

// Distance returns the geodesic distance in metres between two points.
func Distance(lon1, lat1, lon2, lat2 float64) float64 {
	_, s := inverse(lon1, lat1, lon2, lat2)
	return s
}

// inverse solves the Vincenty inverse problem. When the iteration fails to
// converge (nearly antipodal points) it falls back to the spherical solution.
func inverse(lon1, lat1, lon2, lat2 float64) (azimuth, distance float64) {
	if lon1 == lon2 && lat1 == lat2 {
		return 0, 0
	}

	L := toRad(lon2 - lon1)
	U1 := math.Atan((1 - wgs84F) * math.Tan(toRad(lat1)))
	U2 := math.Atan((1 - wgs84F) * math.Tan(toRad(lat2)))
	sinU1, cosU1 := math.Sincos(U1)
	sinU2, cosU2 := math.Sincos(U2)

	lambda := L
	var sinSigma, cosSigma, sigma, cosSqAlpha, cos2SigmaM float64
	converged := false
	for i := 0; i < vincentyMaxIter; i++ {
		sinLambda, cosLambda := math.Sincos(lambda)
		sinSigma = math.Hypot(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
		if sinSigma == 0 {
			return 0, 0
		}
		cosSigma = sinU1*sinU2 + cosU1*cosU2*cosLambda
		sigma = math.Atan2(sinSigma, cosSigma)
		sinAlpha := cosU1 * cosU2 * sinLambda / sinSigma
		cosSqAlpha = 1 - sinAlpha*sinAlpha
		if cosSqAlpha != 0 {
			cos2SigmaM = cosSigma - 2*sinU1*sinU2/cosSqAlpha
		} else {
			cos2SigmaM = 0 // equatorial line
		}
		C := wgs84F / 16 * cosSqAlpha * (4 + wgs84F*(4-3*cosSqAlpha))
		prev := lambda
		lambda = L + (1-C)*wgs84F*sinAlpha*
			(sigma+C*sinSigma*(cos2SigmaM+C*cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)))
		if math.Abs(lambda-prev) < vincentyEps {
			converged = true
			break
		}
	}
	if !converged {
		return sphericalInverse(lon1, lat1, lon2, lat2)
	}

	uSq := cosSqAlpha * (wgs84A*wgs84A - wgs84B*wgs84B) / (wgs84B * wgs84B)
	A := 1 + uSq/16384*(4096+uSq*(-768+uSq*(320-175*uSq)))
	B := uSq / 1024 * (256 + uSq*(-128+uSq*(74-47*uSq)))
	deltaSigma := B * sinSigma * (cos2SigmaM + B/4*(cosSigma*(-1+2*cos2SigmaM*cos2SigmaM)-
		B/6*cos2SigmaM*(-3+4*sinSigma*sinSigma)*(-3+4*cos2SigmaM*cos2SigmaM)))
	distance = wgs84B * A * (sigma - deltaSigma)

	sinLambda, cosLambda := math.Sincos(lambda)
	alpha1 := math.Atan2(cosU2*sinLambda, cosU1*sinU2-sinU1*cosU2*cosLambda)
	return Normalize(toDeg(alpha1)), distance
}

func sphericalInverse(lon1, lat1, lon2, lat2 float64) (float64, float64) {
	phi1, phi2 := toRad(lat1), toRad(lat2)
	dLon := toRad(lon2 - lon1)
	y := math.Sin(dLon) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLon)
	az := Normalize(toDeg(math.Atan2(y, x)))

	dPhi := phi2 - phi1
	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) + math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return az, 2 * wgs84A * math.Asin(math.Min(1, math.Sqrt(h)))
}

func toRad(d float64) float64 { return d * math.Pi / 180 }
func toDeg(r float64) float64 { return r * 180 / math.Pi }

// #endregion geodesic
