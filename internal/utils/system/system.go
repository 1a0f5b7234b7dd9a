package system

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/open-edge-platform/formula-installer/internal/utils/logger"
	"github.com/open-edge-platform/formula-installer/internal/utils/shell"
)

var OsReleaseFile = "/etc/os-release"

// HostInfo describes the machine an install ran on.
type HostInfo struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	ID      string   `json:"id,omitempty"`
	IDLike  []string `json:"id_like,omitempty"`
	Arch    string   `json:"arch"`
}

// String returns "name version (arch)".
func (h *HostInfo) String() string {
	return strings.TrimSpace(h.Name+" "+h.Version) + " (" + h.Arch + ")"
}

// GetHostOsInfo reads the distribution from /etc/os-release, falling back
// to lsb_release, and the machine architecture from uname.
func GetHostOsInfo(ctx context.Context) (*HostInfo, error) {
	log := logger.Logger()
	info := &HostInfo{}

	output, err := shell.ExecCmd(ctx, "uname -m", "", nil)
	if err != nil {
		log.Debugf("uname failed, using GOARCH: %v", err)
		info.Arch = runtime.GOARCH
	} else {
		info.Arch = strings.TrimSpace(output)
	}

	if err := parseOsRelease(OsReleaseFile, info); err == nil {
		log.Debugf("Detected OS info: %s", info)
		return info, nil
	} else if !os.IsNotExist(err) {
		return info, err
	}

	if !shell.IsCommandExist("lsb_release") {
		return info, fmt.Errorf("failed to detect host OS info: no %s and no lsb_release", OsReleaseFile)
	}
	output, err = shell.ExecCmd(ctx, "lsb_release -si", "", nil)
	if err != nil {
		return info, fmt.Errorf("failed to get host OS name: %w", err)
	}
	info.Name = strings.TrimSpace(output)
	output, err = shell.ExecCmd(ctx, "lsb_release -sr", "", nil)
	if err != nil {
		return info, fmt.Errorf("failed to get host OS version: %w", err)
	}
	info.Version = strings.TrimSpace(output)
	log.Debugf("Detected OS info: %s", info)
	return info, nil
}

func parseOsRelease(path string, info *HostInfo) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), "\"")

		switch strings.TrimSpace(key) {
		case "NAME":
			info.Name = value
		case "VERSION_ID":
			info.Version = value
		case "ID":
			info.ID = strings.ToLower(value)
		case "ID_LIKE":
			// ID_LIKE can contain multiple space-separated values
			info.IDLike = strings.Fields(value)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}
	return nil
}
