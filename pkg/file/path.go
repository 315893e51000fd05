package file

import (
	"path/filepath"
	"strings"
)

// TrimExt returns the file name of path without directory and extension.
func TrimExt(path string) string {
	name := filepath.Base(path)
	if lastDot := strings.LastIndex(name, "."); lastDot > 0 {
		return name[:lastDot]
	}
	return name
}
