package extraction

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Tile is one rectangle of a tiled image.
type Tile struct {
	Rect image.Rectangle
}

// Offset returns the top-left corner of the tile inside the source image.
func (t Tile) Offset() Offset {
	return Offset{X: t.Rect.Min.X, Y: t.Rect.Min.Y}
}

// PlanTiles covers a width x height image with tiles of at most size x size,
// row by row. The last row and column are clipped to the image.
func PlanTiles(width, height, size int) []Tile {
	if width <= 0 || height <= 0 || size <= 0 {
		return nil
	}
	cols := (width + size - 1) / size
	rows := (height + size - 1) / size
	tiles := make([]Tile, 0, cols*rows)
	for y := 0; y < height; y += size {
		for x := 0; x < width; x += size {
			tiles = append(tiles, Tile{Rect: image.Rect(x, y, min(x+size, width), min(y+size, height))})
		}
	}
	return tiles
}

// DecodeImage decodes any registered raster format.
func DecodeImage(data []byte) (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// DecodeImageConfig reads only the dimensions of an image.
func DecodeImageConfig(data []byte) (image.Config, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return image.Config{}, fmt.Errorf("failed to read image header: %w", err)
	}
	return cfg, nil
}

// CropPNG copies rect out of src into a new PNG whose origin is rect.Min.
func CropPNG(src image.Image, rect image.Rectangle) ([]byte, error) {
	rect = rect.Intersect(src.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("crop %v is outside image bounds %v", rect, src.Bounds())
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("failed to encode tile: %w", err)
	}
	return buf.Bytes(), nil
}
