// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package metrics

import "math"

// RunningStats accumulates mean, variance, min and max over a numeric
// stream using Welford's online algorithm. It is not safe for concurrent
// use; the engine serializes access.
type RunningStats struct {
	n    int64
	mean float64
	m2   float64
	min  float64
	max  float64
}

// Update folds one observation into the accumulator.
func (rs *RunningStats) Update(x float64) {
	rs.n++
	if rs.n == 1 {
		rs.min = x
		rs.max = x
	} else {
		rs.min = math.Min(rs.min, x)
		rs.max = math.Max(rs.max, x)
	}

	delta := x - rs.mean
	rs.mean += delta / float64(rs.n)
	rs.m2 += delta * (x - rs.mean)
}

// Count returns the number of observations.
func (rs *RunningStats) Count() int64 { return rs.n }

// Mean returns the arithmetic mean, or zero before any observations.
func (rs *RunningStats) Mean() float64 { return rs.mean }

// Stddev returns the sample standard deviation, or zero for n < 2.
func (rs *RunningStats) Stddev() float64 {
	if rs.n < 2 {
		return 0
	}
	return math.Sqrt(rs.m2 / float64(rs.n-1))
}

// Min returns the smallest observation, or zero before any observations.
func (rs *RunningStats) Min() float64 { return rs.min }

// Max returns the largest observation, or zero before any observations.
func (rs *RunningStats) Max() float64 { return rs.max }
