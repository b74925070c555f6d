// Package anyvwords computes bag-of-visual-words
// descriptors for batches of images.
//
// Every batch is encoded independently: a vocabulary is
// fit from the batch's own keypoint descriptors, each
// image is quantized into a word histogram, and the
// histograms are standardized per word.
package anyvwords

import (
	"errors"
	"fmt"
	"image"
	"math"
	"math/rand"
	"runtime"
	"sync"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultVocabSize is the number of visual words used
	// when Encoder.K is 0.
	DefaultVocabSize = 2048

	defaultMaxIter = 20
)

// ErrNoDescriptors is returned when no image in a batch
// produced a single keypoint descriptor.
var ErrNoDescriptors = errors.New("no keypoint descriptors in batch")

// A Detector finds local keypoints in an image and returns
// one fixed-length descriptor per keypoint.
// An image without keypoints yields no descriptors and no
// error.
type Detector interface {
	Detect(img image.Image) ([][]float64, error)
}

// An Encoder turns a batch of images into one
// standardized visual-word histogram per image.
type Encoder struct {
	Detector Detector

	// K is the vocabulary size.
	// If it is 0, DefaultVocabSize is used.
	K int

	// MaxIter bounds the clustering iterations.
	// If it is 0, a default is used.
	MaxIter int

	// Rand seeds the vocabulary initialization.
	// If it is nil, the global source is used.
	Rand *rand.Rand

	// MaxGos specifies the maximum goroutines to use for
	// keypoint detection.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int
}

// A Result is the encoding of one batch.
// Matrices are row-major with one row per image, in batch
// order.
type Result struct {
	N int
	K int

	// Features is the standardized N x K histogram matrix.
	Features []float64

	// Counts is the raw N x K word-count matrix.
	Counts []float64

	// IDF holds the inverse document frequency of every
	// word.
	// It is reported but not folded into Features.
	IDF []float64

	// DescriptorCounts is the number of descriptors that
	// went into each image's histogram.
	DescriptorCounts []int

	// Substitutes maps an image index to the index of the
	// image whose descriptors replaced its own.
	// Images with their own descriptors are absent.
	Substitutes map[int]int
}

// Vector packs the standardized features into a vector.
func (r *Result) Vector(c anyvec.Creator) anyvec.Vector {
	return c.MakeVectorData(c.MakeNumericList(r.Features))
}

// Encode computes the descriptor of every image in the
// batch.
func (e *Encoder) Encode(images []image.Image) (*Result, error) {
	if len(images) == 0 {
		return nil, errors.New("encode: empty batch")
	}
	raw, err := e.detectAll(images)
	if err != nil {
		return nil, essentials.AddCtx("encode", err)
	}
	descs, subs, err := fillMissing(raw)
	if err != nil {
		return nil, err
	}

	dim := len(descs[0][0])
	var numDescs int
	for i, d := range descs {
		for _, x := range d {
			if len(x) != dim {
				return nil, fmt.Errorf("encode: image %d has descriptor length %d, expected %d",
					i, len(x), dim)
			}
		}
		numDescs += len(d)
	}
	pool := mat.NewDense(numDescs, dim, nil)
	row := 0
	for _, d := range descs {
		for _, x := range d {
			pool.SetRow(row, x)
			row++
		}
	}

	k := e.vocabSize()
	vocab := FitVocabulary(pool, k, e.maxIter(), e.Rand)
	words := vocab.Quantize(pool)

	n := len(images)
	res := &Result{
		N:                n,
		K:                k,
		Counts:           make([]float64, n*k),
		DescriptorCounts: make([]int, n),
		Substitutes:      subs,
	}
	row = 0
	for i, d := range descs {
		for range d {
			res.Counts[i*k+words[row]]++
			row++
		}
		res.DescriptorCounts[i] = len(d)
	}
	res.IDF = InverseDocFreq(res.Counts, n, k)
	res.Features = Standardize(res.Counts, n, k)
	return res, nil
}

func (e *Encoder) detectAll(images []image.Image) ([][][]float64, error) {
	res := make([][][]float64, len(images))

	idxChan := make(chan int, len(images))
	for i := range images {
		idxChan <- i
	}
	close(idxChan)

	maxGos := e.MaxGos
	if maxGos == 0 {
		maxGos = runtime.GOMAXPROCS(0)
	}

	var wg sync.WaitGroup
	errChan := make(chan error, maxGos)
	for i := 0; i < maxGos; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range idxChan {
				descs, err := e.Detector.Detect(images[i])
				if err != nil {
					errChan <- essentials.AddCtx(fmt.Sprintf("detect image %d", i), err)
					return
				}
				res[i] = descs
			}
		}()
	}
	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}
	return res, nil
}

// fillMissing substitutes every empty descriptor set with
// the set of the nearest following image that has one,
// wrapping around the batch.
func fillMissing(raw [][][]float64) ([][][]float64, map[int]int, error) {
	res := make([][][]float64, len(raw))
	subs := map[int]int{}
	for i, d := range raw {
		if len(d) > 0 {
			res[i] = d
			continue
		}
		for offset := 1; offset < len(raw); offset++ {
			j := (i + offset) % len(raw)
			if len(raw[j]) > 0 {
				res[i] = raw[j]
				subs[i] = j
				break
			}
		}
		if res[i] == nil {
			return nil, nil, ErrNoDescriptors
		}
	}
	return res, subs, nil
}

// InverseDocFreq computes log((n+1)/(docCount+1)) for
// every word, where docCount is the number of rows of the
// n x k count matrix in which the word occurs.
func InverseDocFreq(counts []float64, n, k int) []float64 {
	res := make([]float64, k)
	for w := 0; w < k; w++ {
		var docs int
		for i := 0; i < n; i++ {
			if counts[i*k+w] > 0 {
				docs++
			}
		}
		res[w] = math.Log(float64(n+1) / float64(docs+1))
	}
	return res
}

// Standardize shifts and scales every column of an n x k
// matrix to zero mean and unit population variance.
// Constant columns are only shifted.
func Standardize(data []float64, n, k int) []float64 {
	res := make([]float64, len(data))
	col := make([]float64, n)
	for j := 0; j < k; j++ {
		for i := 0; i < n; i++ {
			col[i] = data[i*k+j]
		}
		mean := stat.Mean(col, nil)
		scale := math.Sqrt(stat.Moment(2, col, nil))
		if scale == 0 {
			scale = 1
		}
		for i := 0; i < n; i++ {
			res[i*k+j] = (col[i] - mean) / scale
		}
	}
	return res
}

func (e *Encoder) vocabSize() int {
	if e.K == 0 {
		return DefaultVocabSize
	}
	return e.K
}

func (e *Encoder) maxIter() int {
	if e.MaxIter == 0 {
		return defaultMaxIter
	}
	return e.MaxIter
}
