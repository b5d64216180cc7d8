package plugin

import (
	"os"
	"path/filepath"
	"sort"
	"time"
)

// nowFunc is a seam for LoadedPlugin.loadTime so tests can stub it later
// without reaching for a clock-injection interface across the package.
var nowFunc = time.Now

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func joinPath(dir, name string) string {
	return filepath.Join(dir, name)
}

func listDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func sortStrings(s []string) {
	sort.Strings(s)
}
