package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
)

const maxStemLen = 80

// ErrOutputDir is wrapped by every rejected output directory.
var ErrOutputDir = errors.New("invalid output directory")

// FileName builds the name an export is saved or downloaded under, such as
// "cam_1_summary.csv". The result never contains quotes, slashes or
// whitespace, so it can go straight into a Content-Disposition header.
func FileName(videoID string, kind Kind) string {
	stem := fileStem(videoID)
	if stem == "" {
		stem = "annotations"
	}
	return stem + "_" + string(kind) + ".csv"
}

// fileStem keeps letters, digits, '-' and '.'; every other run of runes
// becomes a single '_'.
func fileStem(videoID string) string {
	var b strings.Builder
	n, gap := 0, false
	for _, r := range videoID {
		if n == maxStemLen {
			break
		}
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '.' {
			gap = true
			continue
		}
		if gap && b.Len() > 0 {
			b.WriteByte('_')
			n++
		}
		gap = false
		b.WriteRune(r)
		n++
	}
	return strings.Trim(b.String(), "._-")
}

// outputDir resolves dir to an absolute path of an existing directory.
func outputDir(dir string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("%w: empty path", ErrOutputDir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrOutputDir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", ErrOutputDir, abs)
	}
	return abs, nil
}

// writeAtomic replaces path with data through a temp file in the same
// directory, so a failed export never leaves a truncated CSV behind.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.csv")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
