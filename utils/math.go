package utils

import (
	"math"
	"math/rand"
)

// DegToRad converts degrees to radians.
func DegToRad(degrees float64) float64 {
	return degrees * math.Pi / 180
}

// RadToDeg converts radians to degrees.
func RadToDeg(radians float64) float64 {
	return radians * 180 / math.Pi
}

// Square returns n*n.
func Square(n float64) float64 {
	return n * n
}

// Float64AlmostEqual reports whether a and b differ by at most epsilon.
func Float64AlmostEqual(a, b, epsilon float64) bool {
	return math.Abs(a-b) <= epsilon
}

// SampleRandomIntRange samples a random integer within a range given by [min, max]
// using the given rand.Rand.
func SampleRandomIntRange(min, max int, r *rand.Rand) int {
	return r.Intn(max-min+1) + min
}

// SampleDistinctInts fills dst with distinct integers from [0, n) drawn with r. It panics if
// len(dst) > n.
func SampleDistinctInts(dst []int, n int, r *rand.Rand) {
	if len(dst) > n {
		panic("cannot sample more distinct values than the population")
	}
	for i := range dst {
	draw:
		for {
			candidate := SampleRandomIntRange(0, n-1, r)
			for _, taken := range dst[:i] {
				if taken == candidate {
					continue draw
				}
			}
			dst[i] = candidate
			break
		}
	}
}
