package workspace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"

	"github.com/ngld/xverify/pkg/logging"
)

type cargoManifest struct {
	Package *struct {
		Name     string `toml:"name"`
		Metadata struct {
			Xverify struct {
				HostTests *bool  `toml:"host-tests"`
				Reason    string `toml:"reason"`
			} `toml:"xverify"`
		} `toml:"metadata"`
	} `toml:"package"`
	Workspace *struct {
		Members []string `toml:"members"`
		Exclude []string `toml:"exclude"`
	} `toml:"workspace"`
	Features map[string][]string `toml:"features"`
}

func readManifest(path string) (*cargoManifest, error) {
	var manifest cargoManifest
	_, err := toml.DecodeFile(path, &manifest)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to parse %s", path)
	}

	return &manifest, nil
}

type cargoCrate struct {
	name     string
	path     string
	features []string
	// hostTests is nil unless [package.metadata.xverify] host-tests is set
	hostTests *bool
	reason    string
}

func crateFromManifest(manifest *cargoManifest, path string) (cargoCrate, bool) {
	if manifest.Package == nil || manifest.Package.Name == "" {
		return cargoCrate{}, false
	}

	features := make([]string, 0, len(manifest.Features))
	for name := range manifest.Features {
		features = append(features, name)
	}
	sort.Strings(features)

	meta := manifest.Package.Metadata.Xverify
	return cargoCrate{
		name:      manifest.Package.Name,
		path:      path,
		features:  features,
		hostTests: meta.HostTests,
		reason:    meta.Reason,
	}, true
}

// cargoCrates lists the packages of the cargo workspace at root.
func cargoCrates(root string) ([]cargoCrate, error) {
	rootManifest, err := readManifest(filepath.Join(root, "Cargo.toml"))
	if err != nil {
		return nil, err
	}

	crates := []cargoCrate{}
	if crate, ok := crateFromManifest(rootManifest, "."); ok {
		crates = append(crates, crate)
	}

	if rootManifest.Workspace == nil {
		return crates, nil
	}

	excluded := make(map[string]bool)
	for _, item := range rootManifest.Workspace.Exclude {
		excluded[filepath.Clean(item)] = true
	}

	for _, pattern := range rootManifest.Workspace.Members {
		matches, err := filepath.Glob(filepath.Join(root, pattern))
		if err != nil {
			return nil, eris.Wrapf(err, "invalid workspace member pattern %s", pattern)
		}
		sort.Strings(matches)

		for _, match := range matches {
			rel, err := filepath.Rel(root, match)
			if err != nil {
				return nil, err
			}

			if excluded[rel] {
				continue
			}

			manifestPath := filepath.Join(match, "Cargo.toml")
			if _, err := os.Stat(manifestPath); err != nil {
				continue
			}

			manifest, err := readManifest(manifestPath)
			if err != nil {
				return nil, err
			}

			if crate, ok := crateFromManifest(manifest, filepath.ToSlash(rel)); ok {
				crates = append(crates, crate)
			}
		}
	}

	return crates, nil
}

// MergeCargoMembers adds every crate of the cargo workspace to the member list. Crates
// that were not declared in verify.star are eligible for host testing unless their
// manifest sets host-tests = false under [package.metadata.xverify]. Declared members
// learn their path and the features their manifest offers.
func (w *Workspace) MergeCargoMembers(ctx context.Context) error {
	manifestPath := filepath.Join(w.Root, "Cargo.toml")
	if _, err := os.Stat(manifestPath); err != nil {
		if eris.Is(err, os.ErrNotExist) {
			logging.From(ctx).Debug().Msgf("no Cargo.toml in %s, skipping member discovery", w.Root)
			return nil
		}
		return eris.Wrapf(err, "failed to check %s", manifestPath)
	}

	crates, err := cargoCrates(w.Root)
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(crates))
	for _, crate := range crates {
		known[crate.name] = true
		idx := w.memberIndex(crate.name)
		if idx < 0 {
			eligible := true
			if crate.hostTests != nil {
				eligible = *crate.hostTests
			}

			w.Members = append(w.Members, Member{
				Name:                   crate.name,
				Path:                   crate.path,
				EligibleForHostTesting: eligible,
				Reason:                 crate.reason,
				Features:               crate.features,
				HasManifest:            true,
			})
			continue
		}

		member := &w.Members[idx]
		if member.Path == "" {
			member.Path = crate.path
		}
		member.Features = crate.features
		member.HasManifest = true
		if crate.hostTests != nil && *crate.hostTests != member.EligibleForHostTesting {
			// the stricter of both declarations wins
			logging.From(ctx).Warn().Msgf("member %s: verify.star and Cargo.toml disagree about host tests", member.Name)
			member.EligibleForHostTesting = false
		}
	}

	for _, member := range w.Members {
		if !known[member.Name] {
			logging.From(ctx).Warn().Msgf("member %s is declared but not part of the cargo workspace", member.Name)
		}
	}

	return nil
}

func (w *Workspace) memberIndex(name string) int {
	for idx, member := range w.Members {
		if member.Name == name {
			return idx
		}
	}

	return -1
}

// CheckFeatures verifies that each member's required features exist in its manifest.
func (m Member) CheckFeatures() error {
	if !m.HasManifest {
		return nil
	}

	for _, feature := range m.RequiredFeatures {
		found := false
		for _, available := range m.Features {
			if available == feature {
				found = true
				break
			}
		}

		if !found {
			return eris.Errorf("member %s requires feature %s but its Cargo.toml does not define it", m.Name, feature)
		}
	}

	return nil
}

// Override is a piece of configuration that only makes sense for a cross target.
type Override struct {
	Source string
	Key    string
	Value  string
}

func (o Override) String() string {
	return fmt.Sprintf("%s: %s = %s", o.Source, o.Key, o.Value)
}

var cargoConfigFiles = []string{"config.toml", "config"}

var crossTargetKeys = map[string]bool{
	"runner":    true,
	"linker":    true,
	"rustflags": true,
	"ar":        true,
}

// CargoConfigFiles lists the cargo configuration files that apply to builds in root, in
// the order cargo merges them: root and each of its parents, then the cargo home. The cargo
// home is CARGO_HOME or $HOME/.cargo as found in env; it is skipped if env has neither.
func CargoConfigFiles(root string, env []string) ([]string, error) {
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to resolve %s", root)
	}

	dirs := []string{}
	seen := map[string]bool{}
	for dir := root; ; dir = filepath.Dir(dir) {
		cargoDir := filepath.Join(dir, ".cargo")
		dirs = append(dirs, cargoDir)
		seen[cargoDir] = true

		if filepath.Dir(dir) == dir {
			break
		}
	}

	if home := cargoHome(env); home != "" && !seen[home] {
		dirs = append(dirs, home)
	}

	result := []string{}
	for _, dir := range dirs {
		for _, name := range cargoConfigFiles {
			path := filepath.Join(dir, name)
			info, err := os.Stat(path)
			if err != nil {
				if eris.Is(err, os.ErrNotExist) {
					continue
				}
				return nil, eris.Wrapf(err, "failed to check %s", path)
			}

			if !info.IsDir() {
				result = append(result, path)
			}
		}
	}

	return result, nil
}

func cargoHome(env []string) string {
	home := ""
	for _, item := range env {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}

		switch parts[0] {
		case "CARGO_HOME":
			return filepath.Clean(parts[1])
		case "HOME":
			home = filepath.Join(parts[1], ".cargo")
		}
	}

	return home
}

// CargoConfigOverrides reports cross-target-only settings in every cargo configuration
// file that applies to root. Reading them never starts a process.
func CargoConfigOverrides(root string, env []string) ([]Override, error) {
	files, err := CargoConfigFiles(root, env)
	if err != nil {
		return nil, err
	}

	result := []Override{}
	for _, path := range files {
		var cfg map[string]interface{}
		_, err = toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, eris.Wrapf(err, "failed to parse %s", path)
		}

		result = append(result, configOverrides(configSource(root, path), cfg)...)
	}

	return result, nil
}

func configSource(root, path string) string {
	root, err := filepath.Abs(root)
	if err == nil {
		if rel, err := filepath.Rel(root, path); err == nil && !strings.HasPrefix(rel, "..") {
			return filepath.ToSlash(rel)
		}
	}

	return filepath.ToSlash(path)
}

func configOverrides(source string, cfg map[string]interface{}) []Override {
	result := []Override{}
	if build, ok := cfg["build"].(map[string]interface{}); ok {
		for _, key := range []string{"target", "rustflags"} {
			if value, ok := build[key]; ok {
				result = append(result, Override{Source: source, Key: "build." + key, Value: fmt.Sprint(value)})
			}
		}
	}

	if targets, ok := cfg["target"].(map[string]interface{}); ok {
		names := make([]string, 0, len(targets))
		for triple := range targets {
			names = append(names, triple)
		}
		sort.Strings(names)

		for _, triple := range names {
			settings, ok := targets[triple].(map[string]interface{})
			if !ok {
				continue
			}

			keys := make([]string, 0, len(settings))
			for key := range settings {
				keys = append(keys, key)
			}
			sort.Strings(keys)

			for _, key := range keys {
				if crossTargetKeys[key] {
					result = append(result, Override{
						Source: source,
						Key:    fmt.Sprintf("target.%s.%s", triple, key),
						Value:  fmt.Sprint(settings[key]),
					})
				}
			}
		}
	}

	if unstable, ok := cfg["unstable"].(map[string]interface{}); ok {
		if buildStd, ok := unstable["build-std"]; ok {
			result = append(result, Override{Source: source, Key: "unstable.build-std", Value: fmt.Sprint(buildStd)})
		}
	}

	return result
}

// EnvOverrides reports cross-target-only cargo settings in env.
func EnvOverrides(env []string) []Override {
	result := []Override{}
	for _, item := range env {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) != 2 || parts[1] == "" {
			continue
		}

		name := parts[0]
		if name == "CARGO_BUILD_TARGET" || name == "CARGO_BUILD_RUSTFLAGS" ||
			(strings.HasPrefix(name, "CARGO_TARGET_") &&
				(strings.HasSuffix(name, "_RUNNER") || strings.HasSuffix(name, "_LINKER") ||
					strings.HasSuffix(name, "_RUSTFLAGS"))) {
			result = append(result, Override{Source: "environment", Key: name, Value: parts[1]})
		}
	}

	return result
}

// DetectCrossOverrides combines CargoConfigOverrides and EnvOverrides for a build that
// runs in root with env. Compiling for the host with any of them active fails for reasons
// unrelated to the code under test.
func DetectCrossOverrides(root string, env []string) ([]Override, error) {
	result, err := CargoConfigOverrides(root, env)
	if err != nil {
		return nil, err
	}

	return append(result, EnvOverrides(env)...), nil
}
