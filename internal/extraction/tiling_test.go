package extraction

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanTilesCoversImage(t *testing.T) {
	cases := []struct {
		w, h, want int
	}{
		{3000, 3000, 4},
		{2000, 2000, 4},
		{4500, 1600, 6},
		{1500, 1500, 1},
		{1501, 2999, 4},
	}
	for _, tc := range cases {
		tiles := PlanTiles(tc.w, tc.h, 1500)
		require.Len(t, tiles, tc.want, "%dx%d", tc.w, tc.h)

		var area int
		bounds := image.Rect(0, 0, tc.w, tc.h)
		for _, tile := range tiles {
			assert.True(t, tile.Rect.In(bounds), "tile %v outside %v", tile.Rect, bounds)
			assert.LessOrEqual(t, tile.Rect.Dx(), 1500)
			assert.LessOrEqual(t, tile.Rect.Dy(), 1500)
			area += tile.Rect.Dx() * tile.Rect.Dy()
		}
		assert.Equal(t, tc.w*tc.h, area)
	}
}

func TestPlanTilesRowMajor(t *testing.T) {
	tiles := PlanTiles(2000, 2000, 1500)
	require.Len(t, tiles, 4)
	assert.Equal(t, Offset{X: 0, Y: 0}, tiles[0].Offset())
	assert.Equal(t, Offset{X: 1500, Y: 0}, tiles[1].Offset())
	assert.Equal(t, Offset{X: 0, Y: 1500}, tiles[2].Offset())
	assert.Equal(t, image.Rect(1500, 1500, 2000, 2000), tiles[3].Rect)
	assert.Empty(t, PlanTiles(0, 10, 1500))
}

func TestCropPNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	src.Set(25, 15, color.RGBA{R: 255, A: 255})

	out, err := CropPNG(src, image.Rect(20, 10, 40, 30))
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 20, 20), img.Bounds())
	r, _, _, _ := img.At(5, 5).RGBA()
	assert.Equal(t, uint32(0xffff), r)

	_, err = CropPNG(src, image.Rect(50, 50, 60, 60))
	assert.Error(t, err)
}

func TestDecodeImageConfig(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 7, 9))))
	cfg, err := DecodeImageConfig(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Width)
	assert.Equal(t, 9, cfg.Height)

	_, err = DecodeImageConfig([]byte("not an image"))
	assert.Error(t, err)
}
