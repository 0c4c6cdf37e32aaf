package discovery

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/djherbis/times"

	"github.com/testadapt/testadapt/framework"
)

// cacheSuffix names the enumeration cache next to the executable.
const cacheSuffix = ".enumcache.json"

func cachePath(exePath string) string {
	return exePath + cacheSuffix
}

// readCache returns the cached enumeration if the cache file is newer than
// the executable. Any failure means "no usable cache"; live enumeration is
// the fallback.
func readCache(exePath string) (framework.Enumeration, bool) {
	exeInfo, err := times.Stat(exePath)
	if err != nil {
		return framework.Enumeration{}, false
	}
	path := cachePath(exePath)
	cacheInfo, err := times.Stat(path)
	if err != nil || !cacheInfo.ModTime().After(exeInfo.ModTime()) {
		return framework.Enumeration{}, false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return framework.Enumeration{}, false
	}
	var enum framework.Enumeration
	if err := json.Unmarshal(data, &enum); err != nil {
		return framework.Enumeration{}, false
	}
	return enum, true
}

// writeCache persists the enumeration next to the executable. The write is
// atomic so concurrent readers never observe a torn file.
func writeCache(exePath string, enum framework.Enumeration) error {
	data, err := json.Marshal(enum)
	if err != nil {
		return fmt.Errorf("encoding enumeration cache: %w", err)
	}
	path := cachePath(exePath)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing enumeration cache: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("committing enumeration cache: %w", err)
	}
	return nil
}
