// Package batch expands command-line inputs into the replay files of a
// loose-file batch.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Ext is the extension of files picked up when walking a directory.
const Ext = ".replay"

// Expand resolves args to replay file paths. A regular file is taken as is,
// whatever its extension; a directory is walked recursively for *.replay
// files. Paths that cannot be inspected are reported in errs and skipped, so
// one bad argument never hides the rest of the batch.
func Expand(args []string) (paths []string, errs []error) {
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			errs = append(errs, fmt.Errorf("unable to inspect: %w", err))
			continue
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		walkErr := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				errs = append(errs, fmt.Errorf("unable to inspect: %w", err))
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.Type().IsRegular() && strings.HasSuffix(d.Name(), Ext) {
				paths = append(paths, path)
			}
			return nil
		})
		if walkErr != nil {
			errs = append(errs, fmt.Errorf("walking %s: %w", arg, walkErr))
		}
	}
	return paths, errs
}
