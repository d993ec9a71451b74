package scheduler

import (
	"fmt"
	"sort"
)

var platformNames = map[string]string{
	"darwin":  "macOS",
	"linux":   "Linux",
	"windows": "Windows",
}

// SupportedPlatforms lists the GOOS values Resolve accepts.
func SupportedPlatforms() []string {
	out := make([]string, 0, len(platformNames))
	for p := range platformNames {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// IsSupported reports whether goos has a native backend.
func IsSupported(goos string) bool {
	_, ok := platformNames[goos]
	return ok
}

// PlatformName is the display name for goos.
func PlatformName(goos string) string {
	if name, ok := platformNames[goos]; ok {
		return name
	}
	return goos
}

// Resolve returns the backend for goos. The caller owns the result for the
// life of the process.
func Resolve(goos string, opts Options) (Scheduler, error) {
	switch goos {
	case "darwin":
		return NewLaunchd(opts), nil
	case "linux":
		return NewCrontab(opts), nil
	case "windows":
		return NewTaskScheduler(opts), nil
	default:
		return nil, &Error{
			Platform: goos,
			Op:       "init",
			Message:  fmt.Sprintf("unsupported platform, expected one of %v", SupportedPlatforms()),
		}
	}
}
