package raster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStackConsistent(t *testing.T) {
	base := func() *Grid {
		return NewGrid(4, 3, NewTransform(0, 30, 10), 32633)
	}

	shifted := base()
	shifted.Transform = NewTransform(10, 30, 10)
	reprojected := base()
	reprojected.EPSG = 32634
	narrow := NewGrid(3, 3, NewTransform(0, 30, 10), 32633)

	tests := []struct {
		name    string
		grids   []*Grid
		names   []string
		wantErr string
	}{
		{name: "single band", grids: []*Grid{base()}, names: []string{"B02"}},
		{name: "matching pair", grids: []*Grid{base(), base()}, names: []string{"B02", "B03"}},
		{name: "unnamed", grids: []*Grid{base(), base()}, names: nil},
		{name: "empty", grids: nil, wantErr: "band stack is empty"},
		{name: "name count mismatch", grids: []*Grid{base(), base()}, names: []string{"B02"}, wantErr: "2 grids but 1 names"},
		{name: "shape mismatch", grids: []*Grid{base(), narrow}, names: nil, wantErr: "stacking requires a single grid"},
		{name: "geotransform mismatch", grids: []*Grid{base(), shifted}, names: nil, wantErr: "different geotransform"},
		{name: "projection mismatch", grids: []*Grid{base(), reprojected}, names: nil, wantErr: "stacking requires a single projection"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := stackConsistent(tc.grids, tc.names)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
