package imaging

import (
	"image"
	"math"

	"github.com/anthonynsimon/bild/effect"
)

// Plane is a single-channel float64 image stored row-major.
//
// Values produced by IntensityPlane are luminance in the range 0-255.
type Plane struct {
	Width  int
	Height int
	Pix    []float64
}

// NewPlane allocates a zeroed plane.
func NewPlane(width, height int) *Plane {
	return &Plane{Width: width, Height: height, Pix: make([]float64, width*height)}
}

// GrayImage converts an image to 8-bit luminance.
//
// bild's grayscale filter returns an RGBA image with equal R, G and B
// channels; the R channel of each pixel becomes the gray value.
func GrayImage(img image.Image) *image.Gray {
	rgba := effect.Grayscale(img)
	b := rgba.Bounds()
	gray := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			gray.Pix[y*gray.Stride+x] = rgba.Pix[rgba.PixOffset(b.Min.X+x, b.Min.Y+y)]
		}
	}
	return gray
}

// IntensityPlane converts an image to a single-channel intensity plane.
//
// The conversion uses bild's luminance-weighted grayscale filter, so colour
// and grayscale inputs of the same scene produce comparable planes.
func IntensityPlane(img image.Image) *Plane {
	gray := GrayImage(img)
	p := NewPlane(gray.Rect.Dx(), gray.Rect.Dy())
	for y := 0; y < p.Height; y++ {
		row := gray.Pix[y*gray.Stride : y*gray.Stride+p.Width]
		for x, v := range row {
			p.Pix[y*p.Width+x] = float64(v)
		}
	}
	return p
}

// At returns the value at (x, y), replicating border pixels for coordinates
// outside the plane.
func (p *Plane) At(x, y int) float64 {
	return p.Pix[clamp(y, 0, p.Height-1)*p.Width+clamp(x, 0, p.Width-1)]
}

// Set stores v at (x, y). Coordinates must be inside the plane.
func (p *Plane) Set(x, y int, v float64) {
	p.Pix[y*p.Width+x] = v
}

// Bilinear samples the plane at a fractional coordinate with border
// replication.
func (p *Plane) Bilinear(x, y float64) float64 {
	x0 := math.Floor(x)
	y0 := math.Floor(y)
	ax := x - x0
	ay := y - y0
	ix := int(x0)
	iy := int(y0)

	v00 := p.At(ix, iy)
	v10 := p.At(ix+1, iy)
	v01 := p.At(ix, iy+1)
	v11 := p.At(ix+1, iy+1)

	top := v00 + ax*(v10-v00)
	bottom := v01 + ax*(v11-v01)
	return top + ay*(bottom-top)
}

// Contains reports whether (x, y) lies inside the pixel-centre area of the
// plane.
func (p *Plane) Contains(x, y float64) bool {
	return x >= 0 && y >= 0 && x <= float64(p.Width-1) && y <= float64(p.Height-1)
}

// Sobel computes horizontal and vertical 3x3 Sobel responses.
//
// Border pixels use clamped (replicated) neighbours. The kernels are not
// normalised; divide by 8 to obtain an intensity derivative per pixel.
func Sobel(p *Plane) (gx, gy *Plane) {
	sobelX := [3][3]float64{
		{-1, 0, 1},
		{-2, 0, 2},
		{-1, 0, 1},
	}
	sobelY := [3][3]float64{
		{-1, -2, -1},
		{0, 0, 0},
		{1, 2, 1},
	}

	gx = NewPlane(p.Width, p.Height)
	gy = NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var sx, sy float64
			for ky := -1; ky <= 1; ky++ {
				for kx := -1; kx <= 1; kx++ {
					v := p.At(x+kx, y+ky)
					sx += v * sobelX[ky+1][kx+1]
					sy += v * sobelY[ky+1][kx+1]
				}
			}
			gx.Pix[y*p.Width+x] = sx
			gy.Pix[y*p.Width+x] = sy
		}
	}
	return gx, gy
}

// GaussianBlur applies a 5x5 Gaussian blur.
//
// Uses a standard 5x5 Gaussian kernel with sigma ≈ 1.4:
//
//	1  4  7  4  1
//	4 16 26 16  4
//	7 26 41 26  7
//	4 16 26 16  4
//	1  4  7  4  1
//
// Total kernel sum = 273, used for normalization.
// Border pixels use clamped (replicated) edge values.
func GaussianBlur(p *Plane) *Plane {
	kernel := [5][5]float64{
		{1, 4, 7, 4, 1},
		{4, 16, 26, 16, 4},
		{7, 26, 41, 26, 7},
		{4, 16, 26, 16, 4},
		{1, 4, 7, 4, 1},
	}
	const kernelSum = 273.0

	out := NewPlane(p.Width, p.Height)
	for y := 0; y < p.Height; y++ {
		for x := 0; x < p.Width; x++ {
			var sum float64
			for ky := -2; ky <= 2; ky++ {
				for kx := -2; kx <= 2; kx++ {
					sum += p.At(x+kx, y+ky) * kernel[ky+2][kx+2]
				}
			}
			out.Pix[y*p.Width+x] = sum / kernelSum
		}
	}
	return out
}

// Downsample blurs the plane and keeps every second pixel in each direction.
// Pixel (x, y) of the result corresponds to pixel (2x, 2y) of the input.
func Downsample(p *Plane) *Plane {
	blurred := GaussianBlur(p)
	w := (p.Width + 1) / 2
	h := (p.Height + 1) / 2
	out := NewPlane(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Pix[y*w+x] = blurred.Pix[2*y*p.Width+2*x]
		}
	}
	return out
}

// PyramidLevel is one scale of a Gaussian pyramid with its derivatives.
type PyramidLevel struct {
	Image *Plane

	// DX and DY are intensity derivatives per pixel at this scale.
	DX *Plane
	DY *Plane
}

// Pyramid is a coarse-to-fine image stack; Levels[0] is full resolution and
// coordinates at level L are full-resolution coordinates divided by 2^L.
type Pyramid struct {
	Levels []PyramidLevel
}

// BuildPyramid builds up to levels+1 scales. Coarsening stops early once a
// level would be smaller than minSize pixels on either side.
func BuildPyramid(p *Plane, levels, minSize int) *Pyramid {
	pyr := &Pyramid{}
	cur := p
	for l := 0; l <= levels; l++ {
		dx, dy := Sobel(cur)
		scaleDerivative(dx)
		scaleDerivative(dy)
		pyr.Levels = append(pyr.Levels, PyramidLevel{Image: cur, DX: dx, DY: dy})

		if l == levels || (cur.Width+1)/2 < minSize || (cur.Height+1)/2 < minSize {
			break
		}
		cur = Downsample(cur)
	}
	return pyr
}

func scaleDerivative(p *Plane) {
	for i := range p.Pix {
		p.Pix[i] /= 8
	}
}

// clamp constrains an integer value to the range [min, max].
// Used for boundary handling in convolution operations.
func clamp(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
