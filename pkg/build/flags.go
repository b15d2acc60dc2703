// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded into the binary at link time,
// for example:
//
//	go build -ldflags "-X scope/pkg/build.buildVersion=0.3.0 -X scope/pkg/build.buildCommit=$(git rev-parse --short HEAD)"
//
// Development builds fall back to defaults, so missing flags are reported
// but never fatal.
package build

import (
	"errors"
	"fmt"
)

const (
	defaultName        = "scope"
	defaultDescription = "Software oscilloscope: acquire, scale and analyse an audio input"
	unknown            = "unknown"
)

// Info is the build metadata of the running binary.
type Info struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Time        string `json:"time"`
	Commit      string `json:"commit"`
	Version     string `json:"version"`
}

// String formats the info for version output and logs.
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Commit, i.Time)
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildInfo    = defaultInfo()
)

func defaultInfo() *Info {
	return &Info{
		Name:        defaultName,
		Description: defaultDescription,
		Time:        unknown,
		Commit:      unknown,
		Version:     unknown,
	}
}

// Initialize copies the linker-provided values into the build info. Every
// value that was provided is applied; the returned error lists the missing
// ones, whose defaults stay in place.
func Initialize() error {
	var errs []error
	set := func(dst *string, value, flag string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s is required", flag))
			return
		}
		*dst = value
	}

	set(&buildInfo.Name, buildName, "BuildName")
	set(&buildInfo.Time, buildTime, "BuildTime")
	set(&buildInfo.Commit, buildCommit, "BuildCommit")
	set(&buildInfo.Version, buildVersion, "BuildVersion")

	return errors.Join(errs...)
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Info {
	return buildInfo
}
