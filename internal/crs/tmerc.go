package crs

import (
	"errors"
	"fmt"
	"math"
)

var errOutOfRange = errors.New("coordinate outside projection domain")

// TransverseMercator holds the ellipsoid and grid parameters of one projected system.
// Angles are in degrees.
type TransverseMercator struct {
	A          float64
	F          float64
	Lat0, Lon0 float64
	K0         float64
	FE, FN     float64
}

// NZTM2000 is New Zealand Transverse Mercator on GRS80 (EPSG:2193)
var NZTM2000 = TransverseMercator{
	A:    6378137.0,
	F:    1 / 298.257222101,
	Lat0: 0,
	Lon0: 173,
	K0:   0.9996,
	FE:   1600000,
	FN:   10000000,
}

func (p TransverseMercator) e2() float64 { return p.F * (2 - p.F) }

// meridianArc is the distance along the central meridian from the equator to phi (radians)
func (p TransverseMercator) meridianArc(phi float64) float64 {
	e2 := p.e2()
	e4 := e2 * e2
	e6 := e4 * e2
	return p.A * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// Inverse converts easting/northing to longitude/latitude using the footpoint latitude series
func (p TransverseMercator) Inverse(easting, northing float64) (lon, lat float64, err error) {
	if !finite(easting) || !finite(northing) {
		return 0, 0, fmt.Errorf("inverse %v,%v: %w", easting, northing, errOutOfRange)
	}
	e2 := p.e2()
	e4 := e2 * e2
	e6 := e4 * e2
	ep2 := e2 / (1 - e2)

	m := p.meridianArc(p.Lat0*math.Pi/180) + (northing-p.FN)/p.K0
	mu := m / (p.A * (1 - e2/4 - 3*e4/64 - 5*e6/256))

	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)
	e1sq := e1 * e1
	e1cu := e1sq * e1
	e1qu := e1cu * e1

	phi1 := mu +
		(3*e1/2-27*e1cu/32)*math.Sin(2*mu) +
		(21*e1sq/16-55*e1qu/32)*math.Sin(4*mu) +
		(151*e1cu/96)*math.Sin(6*mu) +
		(1097*e1qu/512)*math.Sin(8*mu)

	sinPhi := math.Sin(phi1)
	cosPhi := math.Cos(phi1)
	tanPhi := math.Tan(phi1)

	c1 := ep2 * cosPhi * cosPhi
	t1 := tanPhi * tanPhi
	w := 1 - e2*sinPhi*sinPhi
	n1 := p.A / math.Sqrt(w)
	r1 := p.A * (1 - e2) / (w * math.Sqrt(w))
	d := (easting - p.FE) / (n1 * p.K0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	latRad := phi1 - (n1*tanPhi/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)
	lonRad := p.Lon0*math.Pi/180 + (d-
		(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120)/cosPhi

	lat = latRad * 180 / math.Pi
	lon = lonRad * 180 / math.Pi
	if !finite(lat) || !finite(lon) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return 0, 0, fmt.Errorf("inverse %v,%v: %w", easting, northing, errOutOfRange)
	}
	return lon, lat, nil
}

// Forward converts longitude/latitude to easting/northing
func (p TransverseMercator) Forward(lon, lat float64) (easting, northing float64, err error) {
	if !finite(lon) || !finite(lat) || math.Abs(lat) > 90 || math.Abs(lon) > 180 {
		return 0, 0, fmt.Errorf("forward %v,%v: %w", lon, lat, errOutOfRange)
	}
	e2 := p.e2()
	ep2 := e2 / (1 - e2)
	phi := lat * math.Pi / 180
	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	n := p.A / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := (lon - p.Lon0) * math.Pi / 180 * cosPhi
	m := p.meridianArc(phi)
	m0 := p.meridianArc(p.Lat0 * math.Pi / 180)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	easting = p.FE + p.K0*n*(a+(1-t+c)*a3/6+(5-18*t+t*t+72*c-58*ep2)*a5/120)
	northing = p.FN + p.K0*(m-m0+n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*ep2)*a6/720))
	if !finite(easting) || !finite(northing) {
		return 0, 0, fmt.Errorf("forward %v,%v: %w", lon, lat, errOutOfRange)
	}
	return easting, northing, nil
}

// Approximate is the linear fallback anchored at the false origin, used when Inverse fails
func (p TransverseMercator) Approximate(easting, northing float64) (lon, lat float64) {
	lat = p.Lat0 + (northing-p.FN)/110574
	lon = p.Lon0 + (easting-p.FE)/(111320*math.Cos(lat*math.Pi/180))
	return lon, lat
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
