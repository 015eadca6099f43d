package bundle

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"golang.org/x/crypto/blake2b"

	"github.com/GriffinCanCode/AgentOS/apphost/internal/shared/errs"
)

// Digest fingerprints every regular file under dir. The digest covers
// relative paths and contents, so renames change it too.
func Digest(dir string) (string, error) {
	type entry struct {
		rel  string
		hash [blake2b.Size256]byte
	}

	var (
		mu      sync.Mutex
		entries []entry
	)
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		sum := blake2b.Sum256(data)

		// walk callbacks run concurrently
		mu.Lock()
		entries = append(entries, entry{rel: filepath.ToSlash(rel), hash: sum})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "bundle.Digest", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "bundle.Digest", err)
	}
	for _, e := range entries {
		h.Write([]byte(e.rel))
		h.Write([]byte{0})
		h.Write(e.hash[:])
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
