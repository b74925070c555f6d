// Package anydata loads person re-identification datasets
// and samples identity-balanced training batches.
package anydata

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/unixpickle/essentials"
)

var marketName = regexp.MustCompile(`^(-?\d+)_c(\d+)`)

// A Sample is one image of a person.
type Sample struct {
	Path string

	// Person is the identity number from the file name.
	Person int

	// Label is the dense class index of Person within its
	// Set.
	Label int

	// Camera is the 0-based camera index.
	Camera int
}

// A Set is a list of samples with dense identity labels.
type Set struct {
	Samples []Sample

	// ByLabel lists the sample indices of every label.
	ByLabel [][]int

	// NumCams is one more than the largest camera index.
	NumCams int
}

// ParseName extracts the person and the 0-based camera
// from a Market-1501 style file name, such as
// "0002_c3s1_000451_03.jpg" (person 2, camera 2).
func ParseName(name string) (person, camera int, err error) {
	match := marketName.FindStringSubmatch(filepath.Base(name))
	if match == nil {
		return 0, 0, fmt.Errorf("parse name %q: unexpected format", name)
	}
	person, _ = strconv.Atoi(match[1])
	camera, _ = strconv.Atoi(match[2])
	if camera < 1 {
		return 0, 0, fmt.Errorf("parse name %q: camera must be at least 1", name)
	}
	return person, camera - 1, nil
}

// Scan reads the images of a dataset part, such as
// "bounding_box_train", below root.
//
// Junk and distractor images (person -1 or 0) are
// skipped.
func Scan(root, part string) (*Set, error) {
	dir := filepath.Join(root, part)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, essentials.AddCtx("scan dataset", err)
	}
	var samples []Sample
	for _, entry := range entries {
		if entry.IsDir() || !isImage(entry.Name()) {
			continue
		}
		person, camera, err := ParseName(entry.Name())
		if err != nil {
			return nil, essentials.AddCtx("scan dataset", err)
		}
		if person <= 0 {
			continue
		}
		samples = append(samples, Sample{
			Path:   filepath.Join(dir, entry.Name()),
			Person: person,
			Camera: camera,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("scan dataset: no images in %s", dir)
	}
	return NewSet(samples), nil
}

// NewSet assigns dense labels to samples in increasing
// order of person number.
func NewSet(samples []Sample) *Set {
	var persons []int
	seen := map[int]bool{}
	for _, s := range samples {
		if !seen[s.Person] {
			seen[s.Person] = true
			persons = append(persons, s.Person)
		}
	}
	sort.Ints(persons)
	labels := map[int]int{}
	for i, p := range persons {
		labels[p] = i
	}

	res := &Set{
		Samples: make([]Sample, len(samples)),
		ByLabel: make([][]int, len(persons)),
	}
	for i, s := range samples {
		s.Label = labels[s.Person]
		res.Samples[i] = s
		res.ByLabel[s.Label] = append(res.ByLabel[s.Label], i)
		if s.Camera+1 > res.NumCams {
			res.NumCams = s.Camera + 1
		}
	}
	return res
}

// NumIDs returns the number of identities.
func (s *Set) NumIDs() int {
	return len(s.ByLabel)
}

func isImage(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}
