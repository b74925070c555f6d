package anydata

import (
	"crypto/md5"
	"strconv"
)

// SplitIdentities partitions a set by identity.
// Every identity is deterministically assigned to one side
// based on a hash of its person number, and leftRatio is
// the expected fraction of identities on the left.
//
// Both results are relabeled densely.
func SplitIdentities(s *Set, leftRatio float64) (left, right *Set) {
	cutoff := hashCutoff(leftRatio)
	var leftSamples, rightSamples []Sample
	for _, sample := range s.Samples {
		if leftRatio == 1 || (leftRatio > 0 && personOnLeft(sample.Person, cutoff)) {
			leftSamples = append(leftSamples, sample)
		} else {
			rightSamples = append(rightSamples, sample)
		}
	}
	return NewSet(leftSamples), NewSet(rightSamples)
}

func personOnLeft(person int, cutoff []byte) bool {
	hash := md5.Sum([]byte(strconv.Itoa(person)))
	return compareHashes(hash[:], cutoff) < 0
}

// hashCutoff finds the hash below which a fraction ratio
// of uniformly random hashes fall.
func hashCutoff(ratio float64) []byte {
	res := make([]byte, 8)
	for i := range res {
		ratio *= 256
		value := int(ratio)
		ratio -= float64(value)
		if value == 256 {
			value = 255
		}
		res[i] = byte(value)
	}
	return res
}

func compareHashes(h1, h2 []byte) int {
	n := len(h1)
	if len(h2) > n {
		n = len(h2)
	}
	for i := 0; i < n; i++ {
		var v1, v2 byte
		if i < len(h1) {
			v1 = h1[i]
		}
		if i < len(h2) {
			v2 = h2[i]
		}
		if v1 < v2 {
			return -1
		} else if v1 > v2 {
			return 1
		}
	}
	return 0
}
