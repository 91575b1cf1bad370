package monitor

import (
	"context"
	"fmt"

	version "github.com/hashicorp/go-version"

	"github.com/wrtkit/router-command/internal/log"
	"github.com/wrtkit/router-command/pkg/protocol"
	"github.com/wrtkit/router-command/pkg/registry"
	"github.com/wrtkit/router-command/pkg/state"
)

// MinimumRelease is the oldest OpenWrt release this library is tested against. rpcd on older
// releases does not expose the iwinfo and dhcp objects the capability table relies on.
var MinimumRelease = version.Must(version.NewVersion("21.02.0"))

// An IncompatibleReleaseError reports firmware older than MinimumRelease.
type IncompatibleReleaseError struct {
	Release state.Release
	Minimum *version.Version
}

func (e *IncompatibleReleaseError) Error() string {
	return fmt.Sprintf("unsupported firmware: %s %s, minimum release is %s",
		e.Release.Distribution, e.Release.Version, e.Minimum)
}

// CheckCompatibility fetches the device's board identity and verifies its firmware release
// against MinimumRelease. Callers may treat the error as a warning; every operation keeps
// working as far as the device supports it.
func CheckCompatibility(ctx context.Context, source Source) error {
	value, err := source.Get(ctx, registry.SystemBoard)
	if err != nil {
		return err
	}
	board, ok := value.(*state.BoardInfo)
	if !ok {
		return fmt.Errorf("%w: system board decoded to %T", protocol.ErrBadResponse, value)
	}
	return CheckRelease(board.Release)
}

// CheckRelease verifies one release identity against MinimumRelease. Snapshot builds and
// vendor forks without a comparable version pass with a warning.
func CheckRelease(release state.Release) error {
	semver, err := version.NewVersion(release.Version)
	if err != nil {
		log.Warning("Firmware release %q is not comparable, skipping compatibility check", release.Version)
		return nil
	}
	if semver.LessThan(MinimumRelease) {
		return &IncompatibleReleaseError{Release: release, Minimum: MinimumRelease}
	}
	return nil
}
