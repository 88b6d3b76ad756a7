// Package util provides small shared helpers.
package util

import (
	"fmt"
	"os"
	"os/exec"
)

// FindBinary locates an executable by name. Search order: explicit path,
// environment variable override, current directory, then PATH.
func FindBinary(name, explicitPath, envVar string) (string, error) {
	if explicitPath != "" {
		if isExecutable(explicitPath) {
			return explicitPath, nil
		}
		return "", fmt.Errorf("configured binary %s is not executable", explicitPath)
	}

	if envVar != "" {
		if envPath := os.Getenv(envVar); envPath != "" {
			if isExecutable(envPath) {
				return envPath, nil
			}
		}
	}

	localPath := "./" + name
	if isExecutable(localPath) {
		return localPath, nil
	}

	// LookPath already verifies executability.
	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("binary %s not found", name)
}

// isExecutable checks if a file exists and is executable by the current user.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.IsDir() {
		return false
	}
	mode := info.Mode()
	return mode&0111 != 0
}
