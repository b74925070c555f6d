package anytrain

import (
	"bytes"
	"encoding/json"
	"image"
	"log/slog"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/fountaindream/VCFL-plus"
	"github.com/fountaindream/VCFL-plus/anyckpt"
	"github.com/fountaindream/VCFL-plus/anydata"
	"github.com/fountaindream/VCFL-plus/anyloss"
	"github.com/fountaindream/VCFL-plus/anymetrics"
	"github.com/fountaindream/VCFL-plus/anysgd"
	"github.com/fountaindream/VCFL-plus/anytriplet"
	"github.com/fountaindream/VCFL-plus/anyvwords"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
)

const (
	testIDs     = 3
	testCams    = 2
	testPerID   = 2
	testBatches = 2
)

var testModelConfig = vcfl.BaselineConfig{
	InHeight:  4,
	InWidth:   2,
	Hidden:    6,
	GlobalDim: 4,
	LocalDim:  3,
	Parts:     2,
	NumIDs:    testIDs,
	NumCams:   testCams,
	KeepProb:  1,
}

type fakeSampler struct {
	rand  *rand.Rand
	count int
}

func (f *fakeSampler) Next() (*anydata.Batch, bool, error) {
	c := anyvec64.DefaultCreator{}
	n := testIDs * testPerID
	inSize := testModelConfig.InHeight * testModelConfig.InWidth * 3
	data := make([]float64, n*inSize)
	for i := range data {
		data[i] = f.rand.NormFloat64()
	}
	batch := &anydata.Batch{
		Inputs: c.MakeVectorData(c.MakeNumericList(data)),
		Num:    n,
	}
	for i := 0; i < n; i++ {
		batch.Labels = append(batch.Labels, i/testPerID)
		batch.Cameras = append(batch.Cameras, i%testCams)
		img := image.NewGray(image.Rect(0, 0, 1, 1))
		img.Pix[0] = uint8(f.rand.Intn(256))
		batch.Images = append(batch.Images, img)
	}
	f.count++
	return batch, f.count%testBatches == 0, nil
}

type fakeEvaluator struct {
	Score float64
	Calls int
}

func (f *fakeEvaluator) Evaluate(m vcfl.Model) (float64, error) {
	f.Calls++
	return f.Score, nil
}

func testLoop(t *testing.T, dir string, logs *bytes.Buffer) *Loop {
	c := anyvec64.DefaultCreator{}
	model, err := vcfl.NewBaseline(c, testModelConfig)
	if err != nil {
		t.Fatal(err)
	}
	centroids := anyloss.NewCentroids(c, testIDs, testModelConfig.GlobalDim)
	weights := anyloss.Weights{Global: 1, Local: 1, ID: 1, Centroid: 0.5, View: 0.1}
	return &Loop{
		Model:  model,
		Engine: &anytriplet.BatchHard{GlobalMargin: 0.3, LocalMargin: 0.3},
		Coordinator: &Coordinator{
			Primary: &anysgd.Optimizer{
				Params:      model.Parameters(),
				Transformer: &anysgd.Adam{},
				WeightDecay: 5e-4,
			},
			Centroids:      &anysgd.Optimizer{Params: centroids.Parameters()},
			CentroidWeight: weights.Centroid,
		},
		Schedule:    anysgd.ConstSchedule(1e-3),
		Sampler:     &fakeSampler{rand: rand.New(rand.NewSource(1))},
		Centroids:   centroids,
		Weights:     weights,
		Normalize:   true,
		NumIDs:      testIDs,
		NumCams:     testCams,
		TotalEpochs: 3,
		Checkpoint:  &anyckpt.Manager{Path: filepath.Join(dir, "ckpt.bin")},
		RunID:       "test-run",
		Recorder:    &anymetrics.Memory{},
		Logger:      slog.New(slog.NewJSONHandler(logs, nil)),
		LogSteps:    1,
	}
}

func TestLoopRun(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	loop := testLoop(t, dir, &logs)
	eval := &fakeEvaluator{Score: 0.75}
	loop.Evaluator = eval
	var steps int
	loop.StatusFunc = func(epoch, step int) {
		steps++
	}
	if err := loop.Run(nil); err != nil {
		t.Fatal(err)
	}
	if steps != 3*testBatches {
		t.Errorf("expected %d steps but got %d", 3*testBatches, steps)
	}
	if eval.Calls != 1 {
		t.Errorf("expected 1 evaluation but got %d", eval.Calls)
	}

	recorder := loop.Recorder.(*anymetrics.Memory)
	epochs := recorder.Epochs()
	if len(epochs) != 3 || epochs[0] != 1 || epochs[2] != 3 {
		t.Errorf("unexpected recorded epochs: %v", epochs)
	}
	scalars := recorder.Epoch(1)
	for _, name := range []string{"loss/loss", "loss/global_loss", "loss/local_loss",
		"loss/id_loss", "loss/c_loss", "loss/view_loss", "tri_precision/global_precision",
		"local_dist/local_dist_ap"} {
		if _, ok := scalars[name]; !ok {
			t.Errorf("missing scalar %s", name)
		}
	}
	if _, ok := scalars["loss/sift_loss"]; ok {
		t.Error("disabled loss was recorded")
	}

	state, err := loop.Checkpoint.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state.Epoch != 3 || state.Score != 0.75 || state.RunID != "test-run" {
		t.Errorf("unexpected checkpoint: epoch=%d score=%f run=%s", state.Epoch,
			state.Score, state.RunID)
	}
	if state.Centroids == nil {
		t.Error("checkpoint is missing centroids")
	}

	var sawStep bool
	for _, line := range bytes.Split(bytes.TrimSpace(logs.Bytes()), []byte("\n")) {
		var entry map[string]interface{}
		if err := json.Unmarshal(line, &entry); err != nil {
			t.Fatal(err)
		}
		if entry["msg"] == "step" {
			sawStep = true
			for _, field := range []string{"step_time", "gp", "lL", "idL", "cL", "viewL", "loss"} {
				if _, ok := entry[field]; !ok {
					t.Errorf("step log is missing %s", field)
				}
			}
			if _, ok := entry["sL"]; ok {
				t.Error("step log has disabled field sL")
			}
		}
	}
	if !sawStep {
		t.Error("no step logs")
	}
}

// pixelDetector returns descriptors derived from the first
// pixel of a grayscale image.
type pixelDetector struct{}

func (pixelDetector) Detect(img image.Image) ([][]float64, error) {
	v := float64(img.(*image.Gray).Pix[0]) / 255
	return [][]float64{{v, 0}, {0, v}, {v, 1 - v}}, nil
}

func TestLoopStep(t *testing.T) {
	testCases := []struct {
		name        string
		weights     anyloss.Weights
		ownHard     bool
		vocabSize   int
		noCentroids bool
		expected    []string
		absent      []string
		errExpected bool
	}{
		{
			name:      "VisualWords",
			weights:   anyloss.Weights{VisualWords: 1},
			vocabSize: testModelConfig.GlobalDim,
			expected:  []string{"loss/sift_loss", "loss/loss"},
			absent:    []string{"loss/global_loss", "tri_precision/global_precision"},
		},
		{
			name:     "LocalOwnHardSample",
			weights:  anyloss.Weights{Global: 1, Local: 1},
			ownHard:  true,
			expected: []string{"loss/global_loss", "loss/local_loss", "local_dist/local_dist_ap"},
		},
		{
			name:     "LocalWithoutGlobal",
			weights:  anyloss.Weights{Local: 1},
			expected: []string{"loss/local_loss", "local_dist/local_dist_ap", "local_dist/local_dist_an"},
			absent: []string{"loss/global_loss", "global_dist/global_dist_ap",
				"global_dist/global_dist_an", "tri_precision/global_precision"},
		},
		{
			name:        "VocabularyMismatch",
			weights:     anyloss.Weights{VisualWords: 1},
			vocabSize:   testModelConfig.GlobalDim - 1,
			errExpected: true,
		},
		{
			name:        "MissingEncoder",
			weights:     anyloss.Weights{VisualWords: 1},
			errExpected: true,
		},
		{
			name:        "MissingCentroids",
			weights:     anyloss.Weights{Centroid: 1},
			noCentroids: true,
			errExpected: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var logs bytes.Buffer
			loop := testLoop(t, t.TempDir(), &logs)
			loop.Weights = tc.weights
			loop.LocalOwnHardSample = tc.ownHard
			loop.Coordinator.CentroidWeight = tc.weights.Centroid
			loop.Coordinator.SetRate(1e-3)
			if tc.noCentroids {
				loop.Centroids = nil
				loop.Coordinator.Centroids = nil
			}
			if tc.vocabSize != 0 {
				loop.Encoder = &anyvwords.Encoder{
					Detector: pixelDetector{},
					K:        tc.vocabSize,
					MaxIter:  5,
					Rand:     rand.New(rand.NewSource(3)),
				}
			}
			batch, _, err := loop.Sampler.Next()
			if err != nil {
				t.Fatal(err)
			}
			scalars, err := loop.Step(batch)
			if tc.errExpected {
				if err == nil {
					t.Fatal("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			for _, name := range tc.expected {
				if _, ok := scalars[name]; !ok {
					t.Errorf("missing scalar %s", name)
				}
			}
			for _, name := range tc.absent {
				if _, ok := scalars[name]; ok {
					t.Errorf("unexpected scalar %s", name)
				}
			}
		})
	}
}

func TestLoopInterruptAndResume(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	loop := testLoop(t, dir, &logs)
	done := make(chan struct{})
	close(done)
	if err := loop.Run(done); err != nil {
		t.Fatal(err)
	}
	state, err := loop.Checkpoint.Load()
	if err != nil {
		t.Fatal(err)
	}
	if state.Epoch != 1 {
		t.Fatalf("expected epoch 1 but got %d", state.Epoch)
	}

	resumed := testLoop(t, dir, &logs)
	resumed.RunID = ""
	if err := resumed.Resume(); err != nil {
		t.Fatal(err)
	}
	if resumed.StartEpoch != 1 || resumed.RunID != "test-run" {
		t.Errorf("unexpected resume state: epoch=%d run=%s", resumed.StartEpoch,
			resumed.RunID)
	}
	assertVectorsEqual(t, vectors(loop.Model.Parameters()),
		vectors(resumed.Model.Parameters()))
	assertVectorsEqual(t, vectors(loop.Centroids.Parameters()),
		vectors(resumed.Centroids.Parameters()))

	if err := resumed.Run(nil); err != nil {
		t.Fatal(err)
	}
	epochs := resumed.Recorder.(*anymetrics.Memory).Epochs()
	if len(epochs) != 2 || epochs[0] != 2 {
		t.Errorf("unexpected epochs after resume: %v", epochs)
	}
}

func TestLoopTest(t *testing.T) {
	dir := t.TempDir()
	var logs bytes.Buffer
	loop := testLoop(t, dir, &logs)
	if _, err := loop.Test(); err == nil {
		t.Error("expected error without evaluator")
	}
	loop.Evaluator = &fakeEvaluator{Score: 0.5}
	if _, err := loop.Test(); err == nil {
		t.Error("expected error without checkpoint")
	}
	loop.TotalEpochs = 1
	if err := loop.Run(nil); err != nil {
		t.Fatal(err)
	}
	score, err := loop.Test()
	if err != nil {
		t.Fatal(err)
	}
	if score != 0.5 {
		t.Errorf("expected 0.5 but got %f", score)
	}
}

func TestTripletEvaluator(t *testing.T) {
	c := anyvec64.DefaultCreator{}
	model, err := vcfl.NewBaseline(c, testModelConfig)
	if err != nil {
		t.Fatal(err)
	}
	eval := &TripletEvaluator{
		Sampler: &fakeSampler{rand: rand.New(rand.NewSource(2))},
		Engine:  &anytriplet.BatchHard{GlobalMargin: 0.3},
	}
	score, err := eval.Evaluate(model)
	if err != nil {
		t.Fatal(err)
	}
	if score < 0 || score > 1 {
		t.Errorf("score out of range: %f", score)
	}
	if n := eval.Sampler.(*fakeSampler).count; n != testBatches {
		t.Errorf("expected %d batches but got %d", testBatches, n)
	}
}

func assertVectorsEqual(t *testing.T, expected, actual []anyvec.Vector) {
	t.Helper()
	if len(expected) != len(actual) {
		t.Fatalf("expected %d vectors but got %d", len(expected), len(actual))
	}
	for i, x := range expected {
		a := x.Data().([]float64)
		b := actual[i].Data().([]float64)
		for j := range a {
			if a[j] != b[j] {
				t.Fatalf("vector %d component %d: expected %f but got %f", i, j, a[j], b[j])
			}
		}
	}
}
