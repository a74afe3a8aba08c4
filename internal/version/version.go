package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is the released version of the server. It is set at build time
// for release builds; the default marks a development build.
var Version = "0.3.0"

// DevVersion is the suffix appended in dev mode.
var DevVersion = fmt.Sprintf("%s-dev", Version)

func GetCurrentVersion(mode string) string {
	if mode == "dev" || mode == "demo" {
		return DevVersion
	}
	return Version
}

func GetMinorVersion(version string) string {
	versionList := strings.Split(version, ".")
	if len(versionList) < 3 {
		return ""
	}
	return versionList[0] + "." + versionList[1]
}

// IsVersionGreaterOrEqualThan returns true if version is greater than or equal to target.
func IsVersionGreaterOrEqualThan(version, target string) bool {
	return compareVersion(version, target) >= 0
}

// IsVersionGreaterThan returns true if version is greater than target.
func IsVersionGreaterThan(version, target string) bool {
	return compareVersion(version, target) > 0
}

func compareVersion(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, _ := strconv.Atoi(as[i])
		bi, _ := strconv.Atoi(bs[i])
		if ai != bi {
			if ai > bi {
				return 1
			}
			return -1
		}
	}
	return len(as) - len(bs)
}
