package anysift

import (
	"image"
	"image/color"
	"testing"
)

func TestDetectBlank(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 128))
	descs, err := Detector{}.Detect(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 0 {
		t.Errorf("expected no descriptors on a blank image but got %d", len(descs))
	}
}

func TestDetectPattern(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 128, 128))
	for y := 0; y < 128; y++ {
		for x := 0; x < 128; x++ {
			if (x/16+y/16)%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	descs, err := Detector{}.Detect(img)
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) == 0 {
		t.Fatal("expected keypoints on a checkerboard")
	}
	for i, d := range descs {
		if len(d) != DescriptorSize {
			t.Fatalf("descriptor %d has length %d", i, len(d))
		}
	}
}
