package installer

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/open-edge-platform/formula-installer/internal/descriptor"
	"github.com/open-edge-platform/formula-installer/internal/installenv"
	"github.com/open-edge-platform/formula-installer/internal/utils/system"
)

// Receipt records what was installed into a prefix.
type Receipt struct {
	InstallID   string            `json:"install_id"`
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Source      ReceiptSource     `json:"source"`
	Resources   []ReceiptResource `json:"resources,omitempty"`
	Assets      []InstalledAsset  `json:"assets,omitempty"`
	Host        *system.HostInfo  `json:"host,omitempty"`
	InstalledAt time.Time         `json:"installed_at"`
	Descriptor  string            `json:"descriptor,omitempty"`
	Warnings    []string          `json:"warnings,omitempty"`
}

// ReceiptSource identifies the primary source of an install.
type ReceiptSource struct {
	URL    string `json:"url"`
	Digest string `json:"digest,omitempty"`
	// Commit is set for head installs, which carry no checksum.
	Commit string `json:"commit,omitempty"`
	Signer string `json:"signer,omitempty"`
}

// ReceiptResource is one staged dependency.
type ReceiptResource struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Digest string `json:"digest"`
}

// InstalledAsset is one auxiliary file copied by the install.
type InstalledAsset struct {
	Kind descriptor.AssetKind `json:"kind"`
	Path string               `json:"path"`
}

// ReceiptPath returns the receipt location inside prefix.
func ReceiptPath(prefix string) string {
	return filepath.Join(prefix, installenv.ReceiptFile)
}

// ReadReceipt loads the receipt of the install at prefix.
func ReadReceipt(prefix string) (*Receipt, error) {
	data, err := os.ReadFile(ReceiptPath(prefix))
	if err != nil {
		return nil, fmt.Errorf("reading install receipt: %w", err)
	}
	var r Receipt
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing install receipt %s: %w", ReceiptPath(prefix), err)
	}
	return &r, nil
}

// Write stores the receipt inside root.
func (r *Receipt) Write(root string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding install receipt: %w", err)
	}
	path := ReceiptPath(root)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("writing install receipt: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing install receipt: %w", err)
	}
	return nil
}
