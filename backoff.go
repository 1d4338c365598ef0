// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"time"
)

// TruncatedExponentialBackoff returns a Duration equal to 2^events
// multiplied by the provided delay and truncated by the provided maximum.
func TruncatedExponentialBackoff(events int, delay, max time.Duration) time.Duration {
	if delay <= 0 || max < delay {
		return max
	}
	// Beyond 62 doublings the shift would wrap.
	if events > 62 {
		return max
	}

	if backoff := delay << uint(events); backoff > 0 && backoff < max {
		return backoff
	}
	return max
}
