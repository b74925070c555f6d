package vcfl

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var b Baseline
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBaseline)
}

// Outputs stores everything an embedding network produces
// for one batch.
// All results are packed row-major, one row per image, in
// the order the images were given.
type Outputs struct {
	// Global is the N x GlobalDim embedding.
	Global    anydiff.Res
	GlobalDim int

	// Local is the N x Parts x LocalDim part embedding.
	Local    anydiff.Res
	Parts    int
	LocalDim int

	// IDLogits and ViewLogits are N x NumIDs and
	// N x NumCams respectively.
	IDLogits   anydiff.Res
	ViewLogits anydiff.Res
}

// A Model maps a batch of image tensors to embeddings and
// classification logits.
type Model interface {
	Parameterizer

	// Forward applies the model to n packed images.
	Forward(in anydiff.Res, n int) *Outputs

	// SetTraining switches between training behavior
	// (e.g. dropout) and evaluation behavior.
	SetTraining(training bool)
}

// BaselineConfig describes the shape of a Baseline.
type BaselineConfig struct {
	InHeight  int
	InWidth   int
	Hidden    int
	GlobalDim int
	LocalDim  int
	Parts     int
	NumIDs    int
	NumCams   int
	KeepProb  float64
}

// Baseline is a small fully-connected embedding network.
//
// The global branch maps the whole image through Trunk.
// The local branch cuts the image into Parts horizontal
// stripes and maps every stripe through the shared Stripe
// network.
// Both classification heads read the global embedding.
type Baseline struct {
	InHeight int
	InWidth  int
	Parts    int

	Trunk    Net
	Stripe   Net
	IDHead   *FC
	ViewHead *FC
}

// NewBaseline creates a randomly initialized Baseline.
func NewBaseline(c anyvec.Creator, cfg BaselineConfig) (*Baseline, error) {
	if cfg.Parts <= 0 || cfg.InHeight%cfg.Parts != 0 {
		return nil, fmt.Errorf("new baseline: %d parts do not divide height %d",
			cfg.Parts, cfg.InHeight)
	}
	inCount := cfg.InHeight * cfg.InWidth * 3
	stripeCount := inCount / cfg.Parts
	keep := cfg.KeepProb
	if keep == 0 {
		keep = 1
	}
	return &Baseline{
		InHeight: cfg.InHeight,
		InWidth:  cfg.InWidth,
		Parts:    cfg.Parts,
		Trunk: Net{
			NewFC(c, inCount, cfg.Hidden),
			ReLU,
			&Dropout{KeepProb: keep},
			NewFC(c, cfg.Hidden, cfg.GlobalDim),
		},
		Stripe: Net{
			NewFC(c, stripeCount, cfg.LocalDim),
			ReLU,
		},
		IDHead:   NewFC(c, cfg.GlobalDim, cfg.NumIDs),
		ViewHead: NewFC(c, cfg.GlobalDim, cfg.NumCams),
	}, nil
}

// DeserializeBaseline deserializes a Baseline.
func DeserializeBaseline(d []byte) (*Baseline, error) {
	var h, w, p serializer.Int
	var res Baseline
	err := serializer.DeserializeAny(d, &h, &w, &p, &res.Trunk, &res.Stripe,
		&res.IDHead, &res.ViewHead)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Baseline", err)
	}
	res.InHeight, res.InWidth, res.Parts = int(h), int(w), int(p)
	return &res, nil
}

// Forward applies the network to a batch of n images,
// each packed as InHeight x InWidth x 3 values.
func (b *Baseline) Forward(in anydiff.Res, n int) *Outputs {
	if in.Output().Len() != n*b.InHeight*b.InWidth*3 {
		panic(fmt.Sprintf("input length should be %d, but got %d",
			n*b.InHeight*b.InWidth*3, in.Output().Len()))
	}
	global := b.Trunk.Apply(in, n)
	local := b.Stripe.Apply(in, n*b.Parts)
	return &Outputs{
		Global:     global,
		GlobalDim:  global.Output().Len() / n,
		Local:      local,
		Parts:      b.Parts,
		LocalDim:   local.Output().Len() / (n * b.Parts),
		IDLogits:   b.IDHead.Apply(global, n),
		ViewLogits: b.ViewHead.Apply(global, n),
	}
}

// Parameters returns the trunk, stripe, identity head and
// view head parameters, in that order.
func (b *Baseline) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	res = append(res, b.Trunk.Parameters()...)
	res = append(res, b.Stripe.Parameters()...)
	res = append(res, b.IDHead.Parameters()...)
	return append(res, b.ViewHead.Parameters()...)
}

// SetTraining enables or disables dropout.
func (b *Baseline) SetTraining(training bool) {
	b.Trunk.SetTraining(training)
	b.Stripe.SetTraining(training)
}

// SerializerType returns the unique ID used to serialize
// a Baseline with the serializer package.
func (b *Baseline) SerializerType() string {
	return "github.com/fountaindream/VCFL-plus.Baseline"
}

// Serialize serializes the network.
func (b *Baseline) Serialize() ([]byte, error) {
	return serializer.SerializeAny(
		serializer.Int(b.InHeight),
		serializer.Int(b.InWidth),
		serializer.Int(b.Parts),
		b.Trunk,
		b.Stripe,
		b.IDHead,
		b.ViewHead,
	)
}
