package index

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/standardbeagle/xref/internal/debug"
	xerrors "github.com/standardbeagle/xref/internal/errors"
)

// VersionFileName is the fingerprint file kept in the durable index folder.
const VersionFileName = "version-info"

// CheckVersion verifies that folder holds an index written by configuration c.
// A missing, empty, unreadable or different fingerprint yields
// IndexRequiresFullRebuild.
func CheckVersion(folder string, c *Configuration) error {
	path := filepath.Join(folder, VersionFileName)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return xerrors.NewIndexRequiresFullRebuild(folder, "no version file")
	case err != nil:
		return xerrors.NewIndexRequiresFullRebuild(folder, fmt.Sprintf("unreadable version file: %v", err))
	case len(data) == 0:
		return xerrors.NewIndexRequiresFullRebuild(folder, "empty version file")
	case !bytes.Equal(data, []byte(c.Describe())):
		return xerrors.NewIndexRequiresFullRebuild(folder, "configuration changed")
	}
	debug.LogIndexing("version file %s matches configuration\n", path)
	return nil
}

// WriteVersion records c's fingerprint in folder, creating it if needed. Call it
// only after a full index pass completed.
func WriteVersion(folder string, c *Configuration) error {
	if err := os.MkdirAll(folder, 0755); err != nil {
		return xerrors.NewIndexTemporarilyNonOperational("create index folder", err)
	}
	path := filepath.Join(folder, VersionFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(c.Describe()), 0644); err != nil {
		return xerrors.NewIndexTemporarilyNonOperational("write version file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return xerrors.NewIndexTemporarilyNonOperational("write version file", err)
	}
	debug.LogIndexing("wrote version file %s\n", path)
	return nil
}
