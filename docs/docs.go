// SPDX-License-Identifier: Apache-2.0

// Package docs embeds the CLI's reference documentation so `reshape docs`
// can print it without needing a network fetch or an installed copy of
// the repository (spec §6).
package docs

import "embed"

//go:embed actions.md
var FS embed.FS

// Actions returns the embedded reference documentation for migration
// actions.
func Actions() string {
	data, err := FS.ReadFile("actions.md")
	if err != nil {
		// Only possible if the embed itself is missing at build time.
		panic(err)
	}
	return string(data)
}
