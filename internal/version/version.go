// Package version resolves the version marker stamped into harvest.xml.
package version

import (
	"errors"
	"runtime/debug"
)

// ErrUnknown is returned when no version marker can be determined.
var ErrUnknown = errors.New("version marker unavailable")

// Value is set at link time: -ldflags "-X .../internal/version.Value=2024-01-31".
var Value string

// BuildInfoFunc matches debug.ReadBuildInfo.
type BuildInfoFunc func() (*debug.BuildInfo, bool)

// Resolve returns injected when set, else the VCS commit time of the build,
// else the VCS revision.
func Resolve(injected string, read BuildInfoFunc) (string, error) {
	if injected != "" {
		return injected, nil
	}
	if read == nil {
		return "", ErrUnknown
	}
	info, ok := read()
	if !ok || info == nil {
		return "", ErrUnknown
	}
	var vcsTime, revision string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.time":
			vcsTime = s.Value
		case "vcs.revision":
			revision = s.Value
		}
	}
	switch {
	case vcsTime != "":
		return vcsTime, nil
	case revision != "":
		return revision, nil
	case info.Main.Version != "" && info.Main.Version != "(devel)":
		return info.Main.Version, nil
	}
	return "", ErrUnknown
}

// Current resolves the running binary's version marker.
func Current() (string, error) {
	return Resolve(Value, debug.ReadBuildInfo)
}
