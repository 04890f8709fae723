// Copyright 2025 nbari
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"regexp"
)

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// validateName rejects a backup name that is empty, contains characters
// outside [A-Za-z0-9_], or is a bare underscore.
func validateName(name string) error {
	if !nameRe.MatchString(name) {
		return fmt.Errorf("invalid name %q: must match %s", name, nameRe.String())
	}
	if name == "_" {
		return fmt.Errorf("invalid name %q: must not be a bare underscore", name)
	}
	return nil
}
