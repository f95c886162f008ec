// Package platform answers the handful of OS questions the rest of the
// app cares about: are we on macOS, Linux, or WSL, can we bind unix
// sockets, and will fsnotify actually deliver events for a given path.
package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

type Platform string

const (
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	WSL1    Platform = "wsl1"
	WSL2    Platform = "wsl2"
	Windows Platform = "windows"
	Unknown Platform = "unknown"
)

var (
	detectOnce sync.Once
	detected   Platform
)

// Detect returns the running platform. The answer cannot change while
// the process lives, so it is computed once.
func Detect() Platform {
	detectOnce.Do(func() {
		detected = detect()
	})
	return detected
}

func detect() Platform {
	switch runtime.GOOS {
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	case "linux":
		return linuxOrWSL()
	default:
		return Unknown
	}
}

func linuxOrWSL() Platform {
	if os.Getenv("WSL_DISTRO_NAME") != "" {
		return wslVersion()
	}
	version, err := os.ReadFile("/proc/version")
	if err != nil {
		return Linux
	}
	if strings.Contains(strings.ToLower(string(version)), "microsoft") {
		return wslVersion()
	}
	return Linux
}

// wslVersion tells WSL1 from WSL2. WSL2 kernels report
// "microsoft-standard"; WSL1 reports "Microsoft" with no standard
// suffix. When the kernel string is inconclusive, WSL2-only device
// nodes settle it, and WSL1 is the default because it is the more
// restricted of the two.
func wslVersion() Platform {
	if version, err := os.ReadFile("/proc/version"); err == nil {
		s := string(version)
		if strings.Contains(s, "microsoft-standard") {
			return WSL2
		}
		if strings.Contains(s, "Microsoft") {
			return WSL1
		}
	}
	if _, err := os.Stat("/run/WSL"); err == nil {
		return WSL2
	}
	if _, err := os.Stat("/dev/vsock"); err == nil {
		return WSL2
	}
	return WSL1
}

// IsWSL reports whether we are inside any WSL distro.
func IsWSL() bool {
	p := Detect()
	return p == WSL1 || p == WSL2
}

// SupportsUnixSockets reports whether unix domain sockets work well
// enough to host the hook bridge on.
func SupportsUnixSockets() bool {
	switch Detect() {
	case MacOS, Linux, WSL2:
		return true
	default:
		return false
	}
}

func (p Platform) String() string {
	switch p {
	case MacOS:
		return "macOS"
	case Linux:
		return "Linux"
	case WSL1:
		return "WSL1"
	case WSL2:
		return "WSL2"
	case Windows:
		return "Windows"
	default:
		return "Unknown"
	}
}

// WatchWarning reports why fsnotify may miss events for path: network
// and passthrough filesystems (9p under WSL2, NFS, CIFS, SSHFS) drop or
// delay inotify delivery. Empty string means watching is fine.
func WatchWarning(path string) string {
	if runtime.GOOS != "linux" {
		return ""
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return ""
	}
	mounts, err := os.ReadFile("/proc/mounts")
	if err != nil {
		return ""
	}
	return watchWarningFor(mountType(abs, string(mounts)))
}

func watchWarningFor(fsType string) string {
	switch {
	case fsType == "9p":
		return "9p mount (WSL2 windows drive): file watching disabled, refresh manually"
	case fsType == "nfs", fsType == "nfs4":
		return "NFS mount: file watching may miss changes"
	case fsType == "cifs", fsType == "smbfs":
		return "CIFS/SMB mount: file watching may miss changes"
	case strings.HasPrefix(fsType, "fuse.sshfs"):
		return "SSHFS mount: file watching disabled, refresh manually"
	}
	return ""
}

// mountType returns the filesystem type of the longest mount point
// prefixing path, per /proc/mounts content.
func mountType(path, mounts string) string {
	var bestMount, bestType string
	for _, line := range strings.Split(mounts, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		if strings.HasPrefix(path, fields[1]) && len(fields[1]) > len(bestMount) {
			bestMount = fields[1]
			bestType = fields[2]
		}
	}
	return bestType
}
