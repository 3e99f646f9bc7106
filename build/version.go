package build

import "fmt"

// appMajor, appMinor, and appPatch form the semantic version coinswapd
// reports via --version, bumped by hand the same way lnd.go's version
// constants are.
const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0

	appPreRelease = "alpha"
)

// Version returns the application version as a properly formed string
// per the semantic versioning 2.0.0 spec (https://semver.org/).
func Version() string {
	version := fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
	if appPreRelease != "" {
		version = fmt.Sprintf("%s-%s", version, appPreRelease)
	}
	return version
}
