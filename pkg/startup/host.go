package startup

import "context"

// Host is the runtime that owns the units. Enable and Disable are transient
// (runtime only); the AndPersist variants also update the flag the host uses
// to auto-start the unit on its next boot.
type Host interface {
	ListUnits(ctx context.Context) ([]ManagedUnit, error)
	IsEnabled(ctx context.Context, unitID string) (bool, error)
	IsRunning(ctx context.Context, unitID string) (bool, error)
	Enable(ctx context.Context, unitID string) error
	Disable(ctx context.Context, unitID string) error
	EnableAndPersist(ctx context.Context, unitID string) error
	DisableAndPersist(ctx context.Context, unitID string) error
	IsRestrictedPlatform(ctx context.Context) (bool, error)
}

// ProfileStore persists the active profile. restricted selects the
// restricted-platform profile of a dual-profile device.
type ProfileStore interface {
	LoadProfile(ctx context.Context, restricted bool) (*Profile, error)
	SaveProfile(ctx context.Context, restricted bool, profile *Profile) error
}
