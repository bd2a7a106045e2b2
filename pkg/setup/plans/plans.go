// Package plans bundles the setup plans shipped with ass
package plans

import _ "embed"

// DefaultName is the file name the default plan is reported under
const DefaultName = "arch.star"

// Default prepares an Arch Linux installation: it checks for git and network access and then
// builds and installs the paru AUR helper.
//
//go:embed arch.star
var Default []byte
