package bundle

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aelpxy/vaultkeep/internal/checksum"
	"github.com/aelpxy/vaultkeep/internal/crypt"
	"github.com/aelpxy/vaultkeep/pkg/models"
)

// Entry is a bundle found on disk.
type Entry struct {
	Name      string
	Path      string
	Size      int64
	ModTime   time.Time
	Encrypted bool
}

// Scan lists the bundles in dir, newest first. A missing dir is empty.
func Scan(dir string) ([]Entry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []Entry
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") || !IsBundle(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Entry{
			Name:      BaseName(e.Name()),
			Path:      filepath.Join(dir, e.Name()),
			Size:      info.Size(),
			ModTime:   info.ModTime(),
			Encrypted: strings.HasSuffix(e.Name(), crypt.Extension),
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].Name > out[j].Name
		}
		return out[i].ModTime.After(out[j].ModTime)
	})
	return out, nil
}

func Latest(dir string) (*Entry, error) {
	entries, err := Scan(dir)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, models.Precondition("no archives found in %s", dir)
	}
	return &entries[0], nil
}

// Remove deletes a bundle together with its sidecars.
func Remove(path string) error {
	for _, sc := range checksum.SidecarPaths(path) {
		if err := os.Remove(sc); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Remove(path)
}
