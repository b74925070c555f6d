// Package anysift detects SIFT keypoints with OpenCV.
package anysift

import (
	"image"

	"github.com/unixpickle/essentials"
	"gocv.io/x/gocv"
)

// DescriptorSize is the length of a SIFT descriptor.
const DescriptorSize = 128

// Detector finds SIFT keypoints in grayscale versions of
// images.
//
// A Detector holds no OpenCV state between calls and may
// be used from multiple goroutines.
type Detector struct{}

// Detect returns one descriptor per keypoint found in img.
func (d Detector) Detect(img image.Image) ([][]float64, error) {
	color, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, essentials.AddCtx("sift detect", err)
	}
	defer color.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(color, &gray, gocv.ColorBGRToGray)

	sift := gocv.NewSIFT()
	defer sift.Close()
	mask := gocv.NewMat()
	defer mask.Close()

	keypoints, descs := sift.DetectAndCompute(gray, mask)
	defer descs.Close()
	if len(keypoints) == 0 || descs.Empty() {
		return nil, nil
	}

	res := make([][]float64, descs.Rows())
	for i := range res {
		row := make([]float64, descs.Cols())
		for j := range row {
			row[j] = float64(descs.GetFloatAt(i, j))
		}
		res[i] = row
	}
	return res, nil
}
