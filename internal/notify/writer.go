// Package notify mirrors the pinned memory lane to sidecar markdown files
// and lets other processes react to pinned changes via filesystem events.
package notify

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/scrypster/engram/pkg/types"
)

// Sidecar writes one markdown file per tenant under {dataPath}/pinned/.
// Files are replaced atomically so readers never see a partial mirror.
type Sidecar struct {
	dir string
}

// NewSidecar creates a mirror rooted at {dataPath}/pinned/.
func NewSidecar(dataPath string) *Sidecar {
	return &Sidecar{dir: filepath.Join(dataPath, "pinned")}
}

// Path returns the sidecar file path for a tenant.
func (s *Sidecar) Path(userID string) string {
	return filepath.Join(s.dir, sanitizeUser(userID)+".md")
}

// MirrorPinned rewrites the tenant's sidecar file from the pinned items.
// Safe to call concurrently for different tenants.
func (s *Sidecar) MirrorPinned(userID string, items []types.Item) error {
	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", s.dir, err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Pinned memory for %s\n\n", userID)
	fmt.Fprintf(&b, "Updated: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	if len(items) == 0 {
		b.WriteString("(none)\n")
	}
	for i := range items {
		fmt.Fprintf(&b, "- %s: %s\n", items[i].Key, items[i].Value)
	}

	path := s.Path(userID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return fmt.Errorf("notify: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: rename %s: %w", path, err)
	}
	return nil
}

// sanitizeUser replaces characters unsafe for filenames.
func sanitizeUser(id string) string {
	out := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		switch id[i] {
		case '/', ':', '\\', '.':
			out[i] = '_'
		default:
			out[i] = id[i]
		}
	}
	return string(out)
}
