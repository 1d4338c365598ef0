// Copyright © by the glassdns Authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

const (
	maxHostnameLength = 253
	maxLabelLength    = 63
)

// ErrBadName is returned when a hostname fails validation.
var ErrBadName = errors.New("invalid hostname")

// NormalizeHostname lowercases the name, converts it to its ASCII lookup
// form, and validates it. Hostnames are keyed case-insensitively
// throughout the service.
func NormalizeHostname(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", ErrBadName
	}

	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return "", ErrBadName
	}
	if !IsValidHostname(ascii) {
		return "", ErrBadName
	}
	return ascii, nil
}

// IsValidHostname reports whether the name is a dot-separated sequence of
// labels where each label is 1-63 octets, starts and ends alphanumeric,
// contains only alphanumerics and hyphens, and the whole name is at most
// 253 octets.
func IsValidHostname(name string) bool {
	if name == "" || len(name) > maxHostnameLength {
		return false
	}

	for _, label := range strings.Split(name, ".") {
		if !isValidLabel(label) {
			return false
		}
	}
	return true
}

func isValidLabel(label string) bool {
	if label == "" || len(label) > maxLabelLength {
		return false
	}
	if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
		return false
	}

	for i := 0; i < len(label); i++ {
		if c := label[i]; !isAlphanumeric(c) && c != '-' {
			return false
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
