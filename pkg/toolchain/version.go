package toolchain

import (
	"context"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rotisserie/eris"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

var versionMatcher = regexp.MustCompile(`\d+\.\d+\.\d+(-[0-9A-Za-z.-]+)?`)

// ParseVersion extracts the first semantic version from a tool's version banner, e.g.
// "rustc 1.77.0-nightly (5bd5d214e 2024-01-25) (1.77.0.0)".
func ParseVersion(banner string) (*semver.Version, error) {
	match := versionMatcher.FindString(banner)
	if match == "" {
		return nil, eris.Errorf("no version found in %q", strings.TrimSpace(banner))
	}

	return semver.NewVersion(match)
}

func (r *Resolver) probeVersion(ctx context.Context, profile *Profile, def Definition) error {
	call := &syntax.CallExpr{}
	for _, arg := range def.VersionCommand {
		call.Args = append(call.Args, &syntax.Word{
			Parts: []syntax.WordPart{&syntax.SglQuoted{Value: arg}},
		})
	}

	output := strings.Builder{}
	runner, err := interp.New(
		interp.Dir(r.Dir),
		interp.Env(profile.Environ()),
		interp.StdIO(nil, &output, &output),
	)
	if err != nil {
		return eris.Wrap(err, "failed to initialize shell")
	}

	err = runner.Run(ctx, &syntax.Stmt{Cmd: call})
	if err != nil {
		return eris.Wrapf(ErrToolchainNotFound, "version probe %s for toolchain %s failed: %v\n%s",
			strings.Join(def.VersionCommand, " "), def.Name, err, output.String())
	}

	version, err := ParseVersion(output.String())
	if err != nil {
		return eris.Wrapf(ErrToolchainVersion, "toolchain %s: %v", def.Name, err)
	}
	profile.Identity = version.String()

	if def.VersionConstraint != "" {
		constraint, err := semver.NewConstraint(def.VersionConstraint)
		if err != nil {
			return eris.Wrapf(err, "invalid version constraint %q for toolchain %s", def.VersionConstraint, def.Name)
		}

		if !constraint.Check(version) {
			return eris.Wrapf(ErrToolchainVersion, "toolchain %s is version %s but %s is required",
				def.Name, version, def.VersionConstraint)
		}
	}

	return nil
}
