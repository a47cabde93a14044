package types

import (
	"fmt"
	"strings"
)

// Version is the canonical project version.
// The CLI, the journal record format and the notification payloads share it.
const Version = "0.3.0"

// ContractVersion is stamped on journal records, archives and completion
// events.
const ContractVersion = Version

// CheckContractVersion reports whether data stamped with version v can be
// read by this build. Versions must share the major version, and the minor
// version too while the major is 0.
func CheckContractVersion(v string) error {
	want := compatPrefix(ContractVersion)
	if got := compatPrefix(v); got == "" || got != want {
		return fmt.Errorf("contract version %q is incompatible with %s", v, ContractVersion)
	}
	return nil
}

// compatPrefix returns "major." or "0.minor." of a semver string, or "" when
// v is malformed.
func compatPrefix(v string) string {
	parts := strings.SplitN(v, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	if parts[0] == "0" {
		return "0." + parts[1] + "."
	}
	return parts[0] + "."
}
