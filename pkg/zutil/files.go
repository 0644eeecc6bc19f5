package zutil

import (
	"path/filepath"
	"runtime"
	"strings"
)

func GetPathInfo(relPath string) (fullPath string, parentDir string, err error) {
	// Convert to absolute path (resolves ../../ and cleans the path)
	fullPath, err = filepath.Abs(relPath)
	if err != nil {
		return "", "", err
	}

	// Get the directory containing the file
	parentDir = filepath.Dir(fullPath)

	return fullPath, parentDir, nil
}

// OutputPath picks the artifact path: an explicit -o wins, otherwise the
// source path with its extension swapped for the format's.
func OutputPath(srcPath, explicit, format string) string {
	if explicit != "" {
		return explicit
	}
	base := strings.TrimSuffix(srcPath, filepath.Ext(srcPath))
	if format == "c" {
		return base + ".c"
	}
	if runtime.GOOS == "windows" {
		return base + ".exe"
	}
	return base
}
