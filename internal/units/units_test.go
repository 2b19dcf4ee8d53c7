// internal/units/units_test.go - Unit tests for unit conversion
package units

import (
	"errors"
	"math"
	"testing"

	"github.com/valpere/rastertiles/internal"
)

func TestConvert(t *testing.T) {
	c := NewConverter()
	tests := []struct {
		name     string
		value    float64
		from, to string
		want     float64
	}{
		{"kelvin to celsius", 273.15, "K", "C", 0},
		{"celsius to fahrenheit", 100, "C", "F", 212},
		{"fahrenheit to kelvin", 32, "F", "K", 273.15},
		{"knots to m/s", 1, "kt", "m/s", 0.514444},
		{"km to mi", 1.609344, "km", "mi", 1},
		{"hPa to mb", 1013.25, "hPa", "mb", 1013.25},
		{"percent to ratio", 50, "%", "1", 0.5},
		{"same unknown unit", 7, "dBZ", "dBZ", 7},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Convert(tt.value, tt.from, tt.to)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-5 {
				t.Errorf("Expected %g, got %g", tt.want, got)
			}
		})
	}
}

func TestConvertIncompatible(t *testing.T) {
	c := NewConverter()
	tests := []struct {
		name     string
		from, to string
	}{
		{"different dimensions", "K", "m/s"},
		{"unknown source", "dBZ", "K"},
		{"unknown target", "K", "furlong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Convert(1, tt.from, tt.to)
			if !errors.Is(err, internal.ErrUnit) {
				t.Errorf("Expected unit error, got %v", err)
			}
		})
	}
}

func TestRegister(t *testing.T) {
	c := NewConverter()
	c.Register(Unit{Symbol: "dam", Dimension: DimensionLength, Scale: 10})
	if !c.Compatible("dam", "km") {
		t.Error("Expected registered unit to be compatible with km")
	}
	got, err := c.Convert(100, "dam", "km")
	if err != nil || got != 1 {
		t.Errorf("Expected 1 km, got %g (%v)", got, err)
	}
}
