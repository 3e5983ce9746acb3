// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the parley configuration file.
//
// The file comes from the --config flag (via [LoadFile]) or the
// PARLEY_CONFIG environment variable (via [Load]). Without either the
// defaults from [Default] apply; there is no discovery of other
// locations. YAML is the primary format. Files with a .json or .jsonc
// extension are read as JSON with comments.
//
// Variable expansion is performed on path fields after loading:
// ${HOME}, ${XDG_CONFIG_HOME}, and ${VAR:-default} patterns are
// expanded. No environment variable overrides a value directly.
//
// This package depends on no other parley packages.
package config
