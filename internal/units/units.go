// internal/units/units.go - Conversion between commensurable units of measure
package units

import (
	"fmt"
	"strings"

	"github.com/valpere/rastertiles/internal"
)

// Dimension groups units that can be converted into one another
type Dimension string

const (
	DimensionTemperature Dimension = "temperature"
	DimensionSpeed       Dimension = "speed"
	DimensionLength      Dimension = "length"
	DimensionPressure    Dimension = "pressure"
	DimensionRatio       Dimension = "ratio"
)

// Unit is a linear mapping onto the base unit of its dimension:
// base = value*Scale + Offset
type Unit struct {
	Symbol    string
	Dimension Dimension
	Scale     float64
	Offset    float64
}

// Converter converts values between registered units
type Converter struct {
	units map[string]Unit
}

// NewConverter creates a converter preloaded with common units
func NewConverter() *Converter {
	c := &Converter{units: make(map[string]Unit)}
	for _, u := range defaultUnits {
		c.Register(u)
	}
	return c
}

var defaultUnits = []Unit{
	{"K", DimensionTemperature, 1, 0},
	{"C", DimensionTemperature, 1, 273.15},
	{"°C", DimensionTemperature, 1, 273.15},
	{"F", DimensionTemperature, 5.0 / 9.0, 459.67 * 5.0 / 9.0},
	{"°F", DimensionTemperature, 5.0 / 9.0, 459.67 * 5.0 / 9.0},

	{"m/s", DimensionSpeed, 1, 0},
	{"km/h", DimensionSpeed, 1 / 3.6, 0},
	{"kt", DimensionSpeed, 1852.0 / 3600.0, 0},
	{"mph", DimensionSpeed, 0.44704, 0},

	{"m", DimensionLength, 1, 0},
	{"km", DimensionLength, 1000, 0},
	{"cm", DimensionLength, 0.01, 0},
	{"mm", DimensionLength, 0.001, 0},
	{"ft", DimensionLength, 0.3048, 0},
	{"in", DimensionLength, 0.0254, 0},
	{"mi", DimensionLength, 1609.344, 0},
	{"nmi", DimensionLength, 1852, 0},

	{"Pa", DimensionPressure, 1, 0},
	{"hPa", DimensionPressure, 100, 0},
	{"mb", DimensionPressure, 100, 0},
	{"kPa", DimensionPressure, 1000, 0},
	{"inHg", DimensionPressure, 3386.389, 0},

	{"1", DimensionRatio, 1, 0},
	{"%", DimensionRatio, 0.01, 0},
}

// Register adds or replaces a unit
func (c *Converter) Register(u Unit) {
	c.units[normalize(u.Symbol)] = u
}

// Lookup returns a registered unit by symbol
func (c *Converter) Lookup(symbol string) (Unit, bool) {
	u, ok := c.units[normalize(symbol)]
	return u, ok
}

// Compatible reports whether values can be converted between the two units
func (c *Converter) Compatible(from, to string) bool {
	f, ok1 := c.Lookup(from)
	t, ok2 := c.Lookup(to)
	return ok1 && ok2 && f.Dimension == t.Dimension
}

// Convert converts value from one unit to another. Identical symbols are
// returned unchanged even when unregistered.
func (c *Converter) Convert(value float64, from, to string) (float64, error) {
	if normalize(from) == normalize(to) {
		return value, nil
	}
	f, ok := c.Lookup(from)
	if !ok {
		return 0, internal.Errorf(internal.ErrorCodeUnit, "unknown unit %q", from)
	}
	t, ok := c.Lookup(to)
	if !ok {
		return 0, internal.Errorf(internal.ErrorCodeUnit, "unknown unit %q", to)
	}
	if f.Dimension != t.Dimension {
		return 0, internal.NewError(internal.ErrorCodeUnit,
			fmt.Sprintf("cannot convert %s to %s", from, to),
			fmt.Errorf("%s is a %s unit, %s is a %s unit", from, f.Dimension, to, t.Dimension))
	}
	base := value*f.Scale + f.Offset
	return (base - t.Offset) / t.Scale, nil
}

func normalize(symbol string) string {
	return strings.TrimSpace(symbol)
}
