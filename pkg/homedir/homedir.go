// Package homedir resolves the two environment variables monocore reads
// once at process start and threads through explicitly thereafter:
// MONOCORE_HOME and OCI_REGISTRY_DOMAIN.
package homedir

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envHome           = "MONOCORE_HOME"
	envRegistryDomain = "OCI_REGISTRY_DOMAIN"

	defaultHomeSuffix    = ".monocore"
	defaultRegistryDomain = "registry-1.docker.io"
)

// MonocoreHome returns MONOCORE_HOME if set, else "~/.monocore".
func MonocoreHome() (string, error) {
	if v := os.Getenv(envHome); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, defaultHomeSuffix), nil
}

// RegistryDomain returns OCI_REGISTRY_DOMAIN if set, else the default
// Docker Hub v2 registry domain.
func RegistryDomain() string {
	if v := os.Getenv(envRegistryDomain); v != "" {
		return v
	}
	return defaultRegistryDomain
}

// OCIDir returns <MONOCORE_HOME>/oci, creating it if necessary.
func OCIDir() (string, error) {
	home, err := MonocoreHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "oci")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create oci directory: %w", err)
	}
	return dir, nil
}

// RootfsDir returns <MONOCORE_HOME>/rootfs, creating it if necessary.
func RootfsDir() (string, error) {
	home, err := MonocoreHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "rootfs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create rootfs directory: %w", err)
	}
	return dir, nil
}

// LogDir returns <MONOCORE_HOME>/log, creating it if necessary.
func LogDir() (string, error) {
	home, err := MonocoreHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "log")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create log directory: %w", err)
	}
	return dir, nil
}
