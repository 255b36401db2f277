package etherscan

import "strings"

// Etherscan license type codes.
var licenseCodes = map[string]int{
	"none":              1,
	"unlicense":         2,
	"mit":               3,
	"gpl-2.0":           4,
	"gpl-3.0":           5,
	"lgpl-2.1":          6,
	"lgpl-3.0":          7,
	"bsd-2-clause":      8,
	"bsd-3-clause":      9,
	"mpl-2.0":           10,
	"osl-3.0":           11,
	"apache-2.0":        12,
	"agpl-3.0":          13,
	"busl-1.1":          14,
	"gpl-2.0-or-later":  4,
	"gpl-3.0-or-later":  5,
	"lgpl-2.1-or-later": 6,
	"lgpl-3.0-or-later": 7,
	"agpl-3.0-or-later": 13,
	"gpl-2.0-only":      4,
	"gpl-3.0-only":      5,
	"lgpl-2.1-only":     6,
	"lgpl-3.0-only":     7,
	"agpl-3.0-only":     13,
}

// LicenseCode maps an SPDX identifier to the Etherscan license type.
// Unknown identifiers map to 1 (no license).
func LicenseCode(spdx string) int {
	if code, ok := licenseCodes[strings.ToLower(strings.TrimSpace(spdx))]; ok {
		return code
	}
	return 1
}
