// internal/raster/data_test.go - Unit tests for raster buffers
package raster

import (
	"math"
	"testing"

	"github.com/valpere/rastertiles/pkg/grid"
)

func TestNewFillsNoData(t *testing.T) {
	d := New(grid.NewRect(0, 0, 3, 2), "K", -999)
	for i, s := range d.Samples {
		if s != -999 {
			t.Errorf("Expected sample %d to be -999, got %g", i, s)
		}
	}
	if !d.IsNoData(float64(d.At(1, 1))) {
		t.Error("Expected filled sample to be no-data")
	}
}

func TestIsNoDataNaN(t *testing.T) {
	d := &Data{NoData: math.NaN()}
	if !d.IsNoData(math.NaN()) {
		t.Error("Expected NaN to match a NaN sentinel")
	}
	if d.IsNoData(0) {
		t.Error("Expected 0 not to match a NaN sentinel")
	}
}

func TestSub(t *testing.T) {
	d := New(grid.NewRect(4, 4, 4, 4), "", 0)
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			d.Set(x, y, float32(y*10+x))
		}
	}

	sub, err := d.Sub(grid.NewRect(6, 5, 2, 2))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sub.At(0, 0) != 12 || sub.At(1, 1) != 23 {
		t.Errorf("Expected 12 and 23, got %g and %g", sub.At(0, 0), sub.At(1, 1))
	}
}

func TestRange(t *testing.T) {
	d := New(grid.NewRect(0, 0, 2, 2), "", -1)
	if _, _, ok := d.Range(); ok {
		t.Error("Expected no range for an all no-data buffer")
	}
	d.Set(0, 0, 3)
	d.Set(1, 1, 7)
	lo, hi, ok := d.Range()
	if !ok || lo != 3 || hi != 7 {
		t.Errorf("Expected range [3, 7], got [%g, %g] ok=%v", lo, hi, ok)
	}
}
