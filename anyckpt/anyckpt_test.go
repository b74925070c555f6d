package anyckpt

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/anyvec/anyvec64"
	"github.com/unixpickle/serializer"
)

func testState() *State {
	c := anyvec64.DefaultCreator{}
	var params []anyvec.Vector
	for _, size := range []int{3, 1, 7} {
		v := c.MakeVector(size)
		anyvec.Rand(v, anyvec.Normal, nil)
		params = append(params, v)
	}
	centroids := c.MakeVector(6)
	anyvec.Rand(centroids, anyvec.Normal, nil)
	return &State{
		Epoch:     12,
		Score:     0.625,
		RunID:     "5d1ab2d4-53a8-4b4e-9b57-1f0f0d3b7f2c",
		Params:    params,
		Optimizer: []byte{1, 2, 3, 4},
		Centroids: centroids,
	}
}

func TestManagerRoundTrip(t *testing.T) {
	m := &Manager{Path: filepath.Join(t.TempDir(), "ckpt", "ckpt.bin")}
	if m.Exists() {
		t.Fatal("unexpected checkpoint")
	}
	state := testState()
	if err := m.Save(state); err != nil {
		t.Fatal(err)
	}
	if !m.Exists() {
		t.Fatal("checkpoint was not written")
	}
	loaded, err := m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(loaded, state) {
		t.Errorf("expected %v but got %v", state, loaded)
	}

	state.Epoch = 13
	state.Centroids = nil
	if err := m.Save(state); err != nil {
		t.Fatal(err)
	}
	loaded, err = m.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Epoch != 13 || loaded.Centroids != nil {
		t.Errorf("overwrite not reflected: epoch %d, centroids %v", loaded.Epoch,
			loaded.Centroids)
	}
}

func TestManagerErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Missing", func(t *testing.T) {
		_, err := (&Manager{Path: filepath.Join(dir, "missing.bin")}).Load()
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound but got %v", err)
		}
	})

	t.Run("Truncated", func(t *testing.T) {
		data, err := Encode(testState())
		if err != nil {
			t.Fatal(err)
		}
		path := filepath.Join(dir, "truncated.bin")
		if err := os.WriteFile(path, data[:len(data)/2], 0644); err != nil {
			t.Fatal(err)
		}
		_, err = (&Manager{Path: path}).Load()
		if !errors.Is(err, ErrCorrupt) {
			t.Errorf("expected ErrCorrupt but got %v", err)
		}
	})

	t.Run("Version", func(t *testing.T) {
		data, err := serializer.SerializeAny(serializer.Int(FormatVersion+1),
			serializer.Bytes{})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := Decode(data); !errors.Is(err, ErrSchema) {
			t.Errorf("expected ErrSchema but got %v", err)
		}
	})
}

func TestApply(t *testing.T) {
	state := testState()
	c := anyvec64.DefaultCreator{}
	vars := []*anydiff.Var{
		anydiff.NewVar(c.MakeVector(3)),
		anydiff.NewVar(c.MakeVector(1)),
		anydiff.NewVar(c.MakeVector(7)),
	}
	if err := Apply(state.Params, vars); err != nil {
		t.Fatal(err)
	}
	for i, v := range vars {
		if !reflect.DeepEqual(v.Vector.Data(), state.Params[i].Data()) {
			t.Errorf("parameter %d not restored", i)
		}
	}
	if err := Apply(state.Params, vars[:2]); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema but got %v", err)
	}
	vars[0] = anydiff.NewVar(c.MakeVector(4))
	if err := Apply(state.Params, vars); !errors.Is(err, ErrSchema) {
		t.Errorf("expected ErrSchema but got %v", err)
	}
}
