// Package anyckpt saves and restores training state.
//
// A checkpoint is a single file holding the model
// parameters, the primary optimizer state, the number of
// completed epochs and a score.
// Files are replaced atomically, so a crash during a save
// leaves the previous checkpoint intact.
package anyckpt

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvecsave"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

// FormatVersion identifies the layout of checkpoint files
// written by this package.
const FormatVersion = 1

var (
	ErrNotFound = errors.New("checkpoint not found")
	ErrCorrupt  = errors.New("checkpoint corrupt")
	ErrSchema   = errors.New("checkpoint schema mismatch")
)

// State is the content of a checkpoint.
type State struct {
	// Epoch is the number of completed epochs.
	Epoch int

	Score float64
	RunID string

	// Params holds the model parameters in a fixed order.
	Params []anyvec.Vector

	// Optimizer is the saved primary optimizer state.
	Optimizer []byte

	// Centroids is the centroid table, or nil.
	Centroids anyvec.Vector
}

// Encode serializes a state.
func Encode(s *State) ([]byte, error) {
	params, err := vectorSlice(s.Params)
	if err != nil {
		return nil, err
	}
	var centroidList []anyvec.Vector
	if s.Centroids != nil {
		centroidList = append(centroidList, s.Centroids)
	}
	centroids, err := vectorSlice(centroidList)
	if err != nil {
		return nil, err
	}
	body, err := serializer.SerializeAny(
		serializer.Int(s.Epoch),
		serializer.Float64(s.Score),
		serializer.Bytes(s.RunID),
		serializer.Bytes(params),
		serializer.Bytes(s.Optimizer),
		serializer.Bytes(centroids),
	)
	if err != nil {
		return nil, essentials.AddCtx("encode checkpoint", err)
	}
	return serializer.SerializeAny(serializer.Int(FormatVersion), serializer.Bytes(body))
}

// Decode deserializes a state.
//
// Malformed data yields ErrCorrupt, and data written in a
// different format version yields ErrSchema.
func Decode(data []byte) (*State, error) {
	var version serializer.Int
	var body serializer.Bytes
	if err := serializer.DeserializeAny(data, &version, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: format version %d, expected %d", ErrSchema, version,
			FormatVersion)
	}

	var epoch serializer.Int
	var score serializer.Float64
	var runID, params, opt, centroids serializer.Bytes
	err := serializer.DeserializeAny(body, &epoch, &score, &runID, &params, &opt, &centroids)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	res := &State{
		Epoch:     int(epoch),
		Score:     float64(score),
		RunID:     string(runID),
		Optimizer: []byte(opt),
	}
	if res.Params, err = decodeVectors(params); err != nil {
		return nil, err
	}
	centroidList, err := decodeVectors(centroids)
	if err != nil {
		return nil, err
	}
	switch len(centroidList) {
	case 0:
	case 1:
		res.Centroids = centroidList[0]
	default:
		return nil, fmt.Errorf("%w: %d centroid tables", ErrSchema, len(centroidList))
	}
	return res, nil
}

// Apply copies restored vectors into live variables.
// The variables must match the saved vectors in number
// and length.
func Apply(vecs []anyvec.Vector, vars []*anydiff.Var) error {
	if len(vecs) != len(vars) {
		return fmt.Errorf("%w: %d saved parameters, %d in model", ErrSchema, len(vecs),
			len(vars))
	}
	for i, v := range vars {
		if vecs[i].Len() != v.Vector.Len() {
			return fmt.Errorf("%w: parameter %d has length %d, expected %d", ErrSchema, i,
				vecs[i].Len(), v.Vector.Len())
		}
		if vecs[i].Creator() != v.Vector.Creator() {
			return fmt.Errorf("%w: parameter %d has a different numeric type", ErrSchema, i)
		}
		v.Vector.Set(vecs[i])
	}
	return nil
}

// A Manager reads and writes the checkpoint at Path.
type Manager struct {
	Path string
}

// Save writes the state, replacing any previous
// checkpoint.
func (m *Manager) Save(s *State) error {
	data, err := Encode(s)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.Path), 0755); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	if err := renameio.WriteFile(m.Path, data, 0644); err != nil {
		return essentials.AddCtx("save checkpoint", err)
	}
	return nil
}

// Load reads the checkpoint.
func (m *Manager) Load() (*State, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, m.Path)
		}
		return nil, essentials.AddCtx("load checkpoint", err)
	}
	return Decode(data)
}

// Exists checks if there is a checkpoint at Path.
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.Path)
	return err == nil
}

func vectorSlice(vecs []anyvec.Vector) ([]byte, error) {
	list := make([]serializer.Serializer, len(vecs))
	for i, v := range vecs {
		list[i] = &anyvecsave.S{Vector: v}
	}
	data, err := serializer.SerializeSlice(list)
	if err != nil {
		return nil, essentials.AddCtx("encode checkpoint", err)
	}
	return data, nil
}

func decodeVectors(data []byte) ([]anyvec.Vector, error) {
	list, err := serializer.DeserializeSlice(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	res := make([]anyvec.Vector, len(list))
	for i, obj := range list {
		s, ok := obj.(*anyvecsave.S)
		if !ok {
			return nil, fmt.Errorf("%w: entry %d is %T, not a vector", ErrSchema, i, obj)
		}
		res[i] = s.Vector
	}
	return res, nil
}
