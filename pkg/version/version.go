// Package version provides protocol version parsing and compatibility checks.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this server.
const Current = "1.2.0"

// ProtocolVersion represents a parsed "major.minor.patch" protocol version.
// The patch component is optional on the wire and defaults to zero.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
	Patch uint16
}

// Parse parses a "major.minor" or "major.minor.patch" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 && len(parts) != 3 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor[.patch]", s)
	}

	components := make([]uint16, 3)
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 16)
		if err != nil || part == "" {
			return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad component %q", s, part)
		}
		components[i] = uint16(n)
	}

	return ProtocolVersion{Major: components[0], Minor: components[1], Patch: components[2]}, nil
}

// String returns the version as "major.minor.patch".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible returns true if the other version has the same major version.
// Clients may run older or newer minor/patch revisions against this server.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}
