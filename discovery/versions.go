package discovery

import "sync"

// Versions records the framework version each runnable reported during its
// last enumeration. It is owned by the host process and injected where
// needed, never a package global.
type Versions struct {
	mu         sync.Mutex
	byRunnable map[string]string
}

func NewVersions() *Versions {
	return &Versions{byRunnable: make(map[string]string)}
}

func (v *Versions) Set(runnableID, version string) {
	if version == "" {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.byRunnable[runnableID] = version
}

func (v *Versions) Get(runnableID string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	version, ok := v.byRunnable[runnableID]
	return version, ok
}
