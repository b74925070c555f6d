package anydata

import (
	"errors"
	"fmt"
	"image"
	"math/rand"
	"runtime"
	"sync"

	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
)

// A Batch is a group of loaded samples.
type Batch struct {
	// Images are the resized (and possibly mirrored)
	// images.
	Images []image.Image

	// Inputs is the packed network input for all images.
	Inputs anyvec.Vector

	Labels   []int
	Cameras  []int
	Paths    []string
	Mirrored []bool
	Num      int
}

// A Sampler produces batches with IDsPerBatch identities
// and ImsPerID images of each identity.
//
// Identities are visited in a new random order every
// epoch, and a final partial group of identities is
// dropped.
// Identities with fewer than ImsPerID images are sampled
// with replacement.
//
// Batches are loaded ahead of time in the background.
type Sampler struct {
	Set     *Set
	Loader  *Loader
	Creator anyvec.Creator

	IDsPerBatch int
	ImsPerID    int

	// Mirror enables random horizontal flips.
	Mirror bool

	// Shuffle enables random identity order.
	// Without it, identities are visited in label order.
	Shuffle bool

	// Prefetch is the number of batches to load ahead.
	// If it is 0, one batch is loaded ahead.
	Prefetch int

	// MaxGos specifies the maximum goroutines to use
	// for loading the images of a batch.
	// If it is 0, GOMAXPROCS is used.
	MaxGos int

	// Rand is used for all random choices and must be set.
	// It must not be used elsewhere once sampling starts.
	Rand *rand.Rand

	startOnce sync.Once
	closeOnce sync.Once
	results   chan samplerResult
	stop      chan struct{}
}

type samplerResult struct {
	Batch     *Batch
	EpochDone bool
	Err       error
}

// Validate checks that the sampler can produce at least
// one batch per epoch.
func (s *Sampler) Validate() error {
	if s.IDsPerBatch <= 0 || s.ImsPerID <= 0 {
		return errors.New("batch dimensions must be positive")
	}
	if s.Set.NumIDs() < s.IDsPerBatch {
		return fmt.Errorf("%d identities cannot fill a batch of %d identities",
			s.Set.NumIDs(), s.IDsPerBatch)
	}
	return nil
}

// BatchesPerEpoch returns the number of batches in every
// epoch.
func (s *Sampler) BatchesPerEpoch() int {
	return s.Set.NumIDs() / s.IDsPerBatch
}

// Next returns the next batch.
// The epochDone flag is set on the last batch of an
// epoch; the following call starts a new epoch.
func (s *Sampler) Next() (batch *Batch, epochDone bool, err error) {
	if err := s.Validate(); err != nil {
		return nil, false, essentials.AddCtx("sample batch", err)
	}
	s.startOnce.Do(s.start)
	res, ok := <-s.results
	if !ok {
		return nil, false, errors.New("sample batch: sampler closed")
	}
	return res.Batch, res.EpochDone, res.Err
}

// Close stops background loading.
func (s *Sampler) Close() {
	s.startOnce.Do(func() {
		s.stop = make(chan struct{})
		s.results = make(chan samplerResult)
		close(s.results)
	})
	s.closeOnce.Do(func() {
		close(s.stop)
	})
}

func (s *Sampler) start() {
	depth := s.Prefetch
	if depth == 0 {
		depth = 1
	}
	s.results = make(chan samplerResult, depth)
	s.stop = make(chan struct{})
	go s.produce()
}

func (s *Sampler) produce() {
	defer close(s.results)
	for {
		plans := s.epochPlans()
		for i, plan := range plans {
			batch, err := s.load(plan)
			res := samplerResult{Batch: batch, EpochDone: i+1 == len(plans), Err: err}
			select {
			case s.results <- res:
			case <-s.stop:
				return
			}
			if err != nil {
				return
			}
		}
	}
}

type samplePlan struct {
	Index  int
	Mirror bool
}

func (s *Sampler) epochPlans() [][]samplePlan {
	order := make([]int, s.Set.NumIDs())
	for i := range order {
		order[i] = i
	}
	if s.Shuffle {
		s.Rand.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	var res [][]samplePlan
	for start := 0; start+s.IDsPerBatch <= len(order); start += s.IDsPerBatch {
		var plan []samplePlan
		for _, label := range order[start : start+s.IDsPerBatch] {
			for _, idx := range s.pick(s.Set.ByLabel[label]) {
				plan = append(plan, samplePlan{
					Index:  idx,
					Mirror: s.Mirror && s.Rand.Intn(2) == 0,
				})
			}
		}
		res = append(res, plan)
	}
	return res
}

func (s *Sampler) pick(indices []int) []int {
	res := make([]int, s.ImsPerID)
	if len(indices) >= s.ImsPerID {
		perm := s.Rand.Perm(len(indices))
		for i := range res {
			res[i] = indices[perm[i]]
		}
	} else {
		for i := range res {
			res[i] = indices[s.Rand.Intn(len(indices))]
		}
	}
	return res
}

func (s *Sampler) load(plan []samplePlan) (*Batch, error) {
	n := len(plan)
	images := make([]image.Image, n)
	inputs := make([]anyvec.Vector, n)

	idxChan := make(chan int, n)
	for i := range plan {
		idxChan <- i
	}
	close(idxChan)

	maxGos := s.MaxGos
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
				sample := s.Set.Samples[plan[i].Index]
				img, err := s.Loader.Load(sample.Path, plan[i].Mirror)
				if err != nil {
					errChan <- essentials.AddCtx("load batch", err)
					return
				}
				images[i] = img
				inputs[i] = s.Loader.Tensor(s.Creator, img)
			}
		}()
	}
	wg.Wait()
	close(errChan)

	if err := <-errChan; err != nil {
		return nil, err
	}

	res := &Batch{
		Images:   images,
		Inputs:   s.Creator.Concat(inputs...),
		Labels:   make([]int, n),
		Cameras:  make([]int, n),
		Paths:    make([]string, n),
		Mirrored: make([]bool, n),
		Num:      n,
	}
	for i, p := range plan {
		sample := s.Set.Samples[p.Index]
		res.Labels[i] = sample.Label
		res.Cameras[i] = sample.Camera
		res.Paths[i] = sample.Path
		res.Mirrored[i] = p.Mirror
	}
	return res, nil
}
