package anydata

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// Default per-channel statistics used to normalize input
// tensors.
var (
	DefaultMean = [3]float64{0.486, 0.459, 0.408}
	DefaultStd  = [3]float64{0.229, 0.224, 0.225}
)

// A Loader reads images and converts them to network
// inputs.
type Loader struct {
	// Height and Width are the size images are resized to
	// after decoding.
	Height, Width int

	// InHeight and InWidth are the size of network input
	// tensors.
	InHeight, InWidth int

	// Mean and Std normalize every channel of an input
	// tensor after scaling it to [0, 1].
	Mean, Std [3]float64
}

// Load decodes and resizes an image, optionally mirroring
// it horizontally.
func (l *Loader) Load(path string, mirror bool) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, essentials.AddCtx("load image", err)
	}
	res := imaging.Resize(img, l.Width, l.Height, imaging.Lanczos)
	if mirror {
		res = imaging.FlipH(res)
	}
	return res, nil
}

// Tensor converts an image into an InHeight x InWidth x 3
// normalized input tensor.
func (l *Loader) Tensor(c anyvec.Creator, img image.Image) anyvec.Vector {
	if img.Bounds().Dx() != l.InWidth || img.Bounds().Dy() != l.InHeight {
		img = imaging.Resize(img, l.InWidth, l.InHeight, imaging.Linear)
	}
	return ImageToTensor(c, img, l.Mean, l.Std)
}

// ImageToTensor converts an image to a row-major tensor of
// RGB values.
// Values are scaled to [0, 1], then every channel has its
// mean subtracted and is divided by its std.
func ImageToTensor(c anyvec.Creator, img image.Image, mean, std [3]float64) anyvec.Vector {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	minX := img.Bounds().Min.X
	minY := img.Bounds().Min.Y

	res := make([]float64, w*h*3)
	idx := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(minX+x, minY+y).RGBA()
			for ch, comp := range [3]uint32{r, g, b} {
				res[idx] = (float64(comp)/0xffff - mean[ch]) / std[ch]
				idx++
			}
		}
	}
	return c.MakeVectorData(c.MakeNumericList(res))
}
