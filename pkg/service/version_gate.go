package service

import (
	"errors"
	"fmt"

	"github.com/kiosknet-protocol/kiosknet-go/pkg/version"
)

// ErrIncompatibleVersion is returned when a peer's declared protocol
// version is not compatible with this server.
var ErrIncompatibleVersion = errors.New("incompatible protocol version")

// checkVersionCompatibility checks a peer-declared protocol version
// against this server. An empty string is treated as compatible
// (backward compatibility with clients that predate the version field).
func checkVersionCompatibility(peerVersion string) error {
	if peerVersion == "" {
		return nil // assume compatible for backward compat
	}

	peerVer, err := version.Parse(peerVersion)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q: %v", ErrIncompatibleVersion, peerVersion, err)
	}

	ourVer, _ := version.Parse(version.Current)
	if !ourVer.Compatible(peerVer) {
		return fmt.Errorf("%w: peer=%s, server=%s", ErrIncompatibleVersion, peerVer, ourVer)
	}

	return nil
}
