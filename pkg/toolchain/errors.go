package toolchain

import "github.com/rotisserie/eris"

var (
	// ErrToolchainNotFound means the toolchain's environment definition or compiler is
	// missing. Callers must not invoke a compiler after seeing it.
	ErrToolchainNotFound = eris.New("toolchain not found")
	// ErrToolchainVersion means the toolchain exists but does not satisfy the declared
	// version constraint.
	ErrToolchainVersion = eris.New("toolchain version mismatch")
)

// IsResolutionError reports whether err stems from toolchain resolution.
func IsResolutionError(err error) bool {
	return eris.Is(err, ErrToolchainNotFound) || eris.Is(err, ErrToolchainVersion)
}

// Require checks that profile may build for target. A target that needs a cross toolchain
// never falls back to a native one.
func Require(profile *Profile, kind Kind, target string) error {
	if profile == nil {
		if kind == KindAny {
			return nil
		}
		return eris.Wrapf(ErrToolchainNotFound, "no %s toolchain active for %s", kind, target)
	}

	if kind != KindAny && profile.Kind != kind {
		return eris.Wrapf(ErrToolchainNotFound, "%s needs a %s toolchain but %s is %s", target, kind, profile.Name, profile.Kind)
	}

	return nil
}
