package hooks

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bryanchriswhite/kwinidle/internal/logger"
	"golang.org/x/sys/unix"
)

// ErrNoListeners is returned when the listeners directory holds no usable executable
var ErrNoListeners = errors.New("no listeners found")

// permissiveBits are the mode bits a listener or its directory must not carry:
// setuid, setgid, sticky, owner write and every group/other bit.
const permissiveBits = 0o7277

// Load returns the listener executables in dir, sorted by name.
// dir is created with mode 0500 when missing. The directory must be owned by
// the current user and carry no permissive bits. Files failing the same checks
// are skipped with a warning.
func Load(dir string) ([]string, error) {
	log := logger.WithComponent("hooks")

	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listeners path: %w", err)
	}
	log.Info().Str("path", abs).Msg("Looking for listeners")

	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create parent of %s: %w", abs, err)
	}
	if err := os.Mkdir(abs, 0o500); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("failed to create listeners directory: %w", err)
	}

	if err := checkOwnership(abs); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read listeners directory: %w", err)
	}

	listeners := make([]string, 0, len(entries))
	for _, entry := range entries {
		path := filepath.Join(abs, entry.Name())
		if !entry.Type().IsRegular() {
			continue
		}
		if unix.Access(path, unix.R_OK|unix.X_OK) != nil {
			continue
		}
		if err := checkOwnership(path); err != nil {
			log.Warn().Err(err).Str("listener", path).Msg("Listener will not be loaded")
			continue
		}
		listeners = append(listeners, path)
	}
	sort.Strings(listeners)

	if len(listeners) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoListeners, abs)
	}
	log.Info().Int("count", len(listeners)).Msg("Loaded listeners")
	return listeners, nil
}

// checkOwnership verifies path belongs to the current user and is not too permissive
func checkOwnership(path string) error {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	uid, gid := uint32(unix.Getuid()), uint32(unix.Getgid())
	if st.Uid != uid || st.Gid != gid {
		return fmt.Errorf("the owner %d:%d of %s is not the current user %d:%d", st.Uid, st.Gid, path, uid, gid)
	}
	if st.Mode&permissiveBits != 0 {
		return fmt.Errorf("the permissions %04o of %s are too permissive, set them to 500", st.Mode&0o7777, path)
	}
	return nil
}
