// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sort"
	"strings"
)

var (
	// commitHash contains the current Git revision; set at build time.
	commitHash string

	// buildDate contains the date of the current build.
	buildDate string
)

// Version represents a SemVer 2.0.0 compatible build version
type Version struct {
	Major int
	Minor int
	Patch int

	// Suffix is the pre-release suffix; blank for release versions.
	Suffix string
}

// CurrentVersion represents the current build version.
// This is the only one in the system
var CurrentVersion = Version{
	Major:  0,
	Minor:  9,
	Patch:  0,
	Suffix: "dev",
}

// GetDependencyList returns a sorted dependency list on the format package="version".
func GetDependencyList() []string {
	var deps []string

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return deps
	}

	for _, dep := range bi.Deps {
		deps = append(deps, fmt.Sprintf("%s=%q", dep.Path, dep.Version))
	}

	sort.Strings(deps)

	return deps
}

func (v Version) String() string {
	metadata := ""
	preRelease := ""

	if v.Suffix != "" {
		preRelease = fmt.Sprintf("-%s", v.Suffix)
		if commitHash != "" {
			metadata = fmt.Sprintf("+%s", strings.ToLower(commitHash))
		}
	}

	return fmt.Sprintf("%d.%d.%d%s%s", v.Major, v.Minor, v.Patch, preRelease, metadata)
}

// BuildVersionString creates the version string printed by "mfapi version".
func BuildVersionString() string {
	program := "mfapi"

	version := "v" + CurrentVersion.String()

	osArch := runtime.GOOS + "/" + runtime.GOARCH
	goVersion := runtime.Version()

	date := buildDate
	if date == "" {
		date = "unknown"
	}

	versionString := fmt.Sprintf(`%s %s %s

Build Date: %s
Commit: %s
Built with: %s`,
		program, version, osArch, date, commitHash, goVersion)

	versionString += "\n\nDependencies:\n\n" + strings.Join(GetDependencyList(), "\n")

	return versionString
}
