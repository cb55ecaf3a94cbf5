// SPDX-FileCopyrightText: © 2026 The nym-go Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !pyroscope

package profiling

import "github.com/charmbracelet/log"

// Start does nothing without the pyroscope build tag.
func Start(logger *log.Logger) (func(), error) {
	logger.Debug("Pyroscope is disabled")
	return func() {}, nil
}
