package system_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/open-edge-platform/formula-installer/internal/utils/system"
)

func TestGetHostOsInfo(t *testing.T) {
	original := system.OsReleaseFile
	defer func() { system.OsReleaseFile = original }()

	tests := []struct {
		name      string
		content   string
		expected  system.HostInfo
		checkLike bool
	}{
		{
			name: "ubuntu",
			content: `NAME="Ubuntu"
VERSION="20.04.3 LTS (Focal Fossa)"
ID=ubuntu
ID_LIKE=debian
VERSION_ID="20.04"`,
			expected:  system.HostInfo{Name: "Ubuntu", Version: "20.04", ID: "ubuntu", IDLike: []string{"debian"}},
			checkLike: true,
		},
		{
			name: "name_and_version_id_only",
			content: `NAME=Alpine Linux
VERSION_ID=3.15.0`,
			expected: system.HostInfo{Name: "Alpine Linux", Version: "3.15.0"},
		},
		{
			name: "equals_in_value",
			content: `NAME="Test=OS"
VERSION_ID="1.0=stable"`,
			expected: system.HostInfo{Name: "Test=OS", Version: "1.0=stable"},
		},
		{
			name: "multiple_id_like",
			content: `NAME="Rocky Linux"
ID="Rocky"
ID_LIKE="rhel centos fedora"
VERSION_ID="9.3"`,
			expected:  system.HostInfo{Name: "Rocky Linux", Version: "9.3", ID: "rocky", IDLike: []string{"rhel", "centos", "fedora"}},
			checkLike: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "os-release")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("Failed to write os-release file: %v", err)
			}
			system.OsReleaseFile = path

			info, err := system.GetHostOsInfo(context.Background())
			if err != nil {
				t.Fatalf("GetHostOsInfo failed: %v", err)
			}
			if info.Name != tt.expected.Name || info.Version != tt.expected.Version || info.ID != tt.expected.ID {
				t.Errorf("expected %+v, got %+v", tt.expected, *info)
			}
			if tt.checkLike && len(info.IDLike) != len(tt.expected.IDLike) {
				t.Errorf("expected ID_LIKE %v, got %v", tt.expected.IDLike, info.IDLike)
			}
			if info.Arch == "" {
				t.Error("architecture not detected")
			}
		})
	}
}

func TestHostInfoString(t *testing.T) {
	info := &system.HostInfo{Name: "Ubuntu", Version: "22.04", Arch: "x86_64"}
	if got := info.String(); got != "Ubuntu 22.04 (x86_64)" {
		t.Errorf("unexpected string %q", got)
	}
	info = &system.HostInfo{Arch: runtime.GOARCH}
	if got := info.String(); got != " ("+runtime.GOARCH+")" {
		t.Errorf("unexpected string %q", got)
	}
}
