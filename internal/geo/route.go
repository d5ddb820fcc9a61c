package geo

// Route is the ordered list of fixes of one run. It only grows.
type Route []Point

// Append returns the route extended with p. Callers handing the route out
// must Clone it first.
func (r Route) Append(p Point) Route {
	return append(r, p)
}

func (r Route) Clone() Route {
	if r == nil {
		return nil
	}
	c := make(Route, len(r))
	copy(c, r)
	return c
}

func (r Route) Last() (Point, bool) {
	if len(r) == 0 {
		return Point{}, false
	}
	return r[len(r)-1], true
}

func (r Route) DistanceKm() float64 {
	return RouteDistanceKm(r)
}
