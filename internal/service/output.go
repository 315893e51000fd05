package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/MimeLyc/srt-translator/internal/errs"
	"github.com/MimeLyc/srt-translator/internal/language"
	"github.com/MimeLyc/srt-translator/pkg/file"
	"github.com/MimeLyc/srt-translator/pkg/log"
)

// OutputName is the suggested file name of a translation: {base}_{code}.srt.
func OutputName(sourcePath, targetCode string) string {
	if t, ok := language.Lookup(targetCode); ok {
		targetCode = t.Code
	}
	return file.TrimExt(sourcePath) + "_" + targetCode + ".srt"
}

// FileSaver writes translations into Dir, or next to the source when Dir is empty.
// The file is named after name (the user-facing source name), which may differ
// from the stored source path for uploads.
type FileSaver struct {
	Dir string
}

func (s FileSaver) OutputPath(sourcePath, name, targetCode string) string {
	dir := s.Dir
	if dir == "" {
		dir = filepath.Dir(sourcePath)
	}
	if name == "" {
		name = sourcePath
	}
	return filepath.Join(dir, OutputName(name, targetCode))
}

func (s FileSaver) Save(_ context.Context, sourcePath, name, targetCode, text string) (string, error) {
	path := s.OutputPath(sourcePath, name, targetCode)
	if err := file.WriteAtomic(path, []byte(text), 0o644); err != nil {
		return "", errs.Wrap(err, errs.KindFileIO, "cannot write translation").WithContext("path", path)
	}
	log.Info("Saved translation to %s", path)
	return path, nil
}

// OutputSource returns the source path a file named like OutputName's result
// would have been translated from, or false when path has no _{code} suffix.
func OutputSource(path string) (string, bool) {
	ext := filepath.Ext(path)
	if !strings.EqualFold(ext, ".srt") {
		return "", false
	}
	stem := file.TrimExt(path)
	lower := strings.ToLower(stem)
	for _, t := range language.All() {
		suffix := "_" + strings.ToLower(t.Code)
		if strings.HasSuffix(lower, suffix) && len(stem) > len(suffix) {
			return filepath.Join(filepath.Dir(path), stem[:len(stem)-len(suffix)]+ext), true
		}
	}
	return "", false
}

// IsOutputOf reports whether path is a translation sitting next to its source.
func IsOutputOf(path string) bool {
	source, ok := OutputSource(path)
	if !ok {
		return false
	}
	_, err := os.Stat(source)
	return err == nil
}
