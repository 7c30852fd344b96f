package tour

import (
	"fmt"
	"io"

	"github.com/twpayne/go-kml"
)

// WriteKML exports the tour as a KML document: one placemark per stop plus
// the walking route in stop order.
func WriteKML(w io.Writer, t Tour) error {
	route := make([]kml.Coordinate, 0, len(t.Stops))
	features := make([]kml.Element, 0, len(t.Stops)+2)
	features = append(features, kml.Name(t.Name))
	if t.Description != "" {
		features = append(features, kml.Description(t.Description))
	}

	for i, s := range t.Stops {
		c := kml.Coordinate{Lon: s.Longitude, Lat: s.Latitude}
		route = append(route, c)
		features = append(features, kml.Placemark(
			kml.Name(fmt.Sprintf("%d. %s", i+1, s.Name)),
			kml.Description(fmt.Sprintf("Trigger radius %.0f m", s.TriggerRadius)),
			kml.Point(kml.Coordinates(c)),
		))
	}

	if len(route) > 1 {
		features = append(features, kml.Placemark(
			kml.Name("Route"),
			kml.LineString(kml.Coordinates(route...)),
		))
	}

	return kml.KML(kml.Document(features...)).WriteIndent(w, "", "  ")
}
