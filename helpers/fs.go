// Copyright (c) 2026 NimbusVPN, LLC.

package helpers

import (
	"fmt"
	"os"
)

// WriteFile writes data with the requested mode. The mode is enforced even
// when the file already exists with looser permissions.
func WriteFile(filePath string, data []byte, mode os.FileMode) error {
	if err := os.WriteFile(filePath, data, mode); err != nil {
		return fmt.Errorf("failed to write file '%s': %w", filePath, err)
	}
	if err := os.Chmod(filePath, mode); err != nil {
		return fmt.Errorf("failed to change mode of file '%s': %w", filePath, err)
	}
	return nil
}

// FileExists reports whether the path exists and is a regular file.
func FileExists(filePath string) bool {
	info, err := os.Stat(filePath)
	return err == nil && info.Mode().IsRegular()
}
