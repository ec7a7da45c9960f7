package sessionstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/HyperCyx/otpbot/internal/domain"
)

const sessionExt = ".session"

// Store keeps session credential files under <dir>/<country>/<phone>.session.
// In-flight logins write to tmp_*.session files in the country directory
// until Finalize renames them into place.
type Store struct {
	dir    string
	logger zerolog.Logger
}

var _ domain.SessionStore = (*Store)(nil)

// New creates a store rooted at dir, creating it if needed.
func New(dir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create sessions dir: %w", err)
	}

	return &Store{
		dir:    dir,
		logger: logger.With().Str("component", "session_store").Logger(),
	}, nil
}

// TempPath creates the country directory and returns a fresh temp
// session path inside it.
func (s *Store) TempPath(countryCode string) (string, error) {
	dir := filepath.Join(s.dir, sanitize(countryCode))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create country dir: %w", err)
	}

	f, err := os.CreateTemp(dir, "tmp_*"+sessionExt)
	if err != nil {
		return "", fmt.Errorf("create temp session: %w", err)
	}
	path := f.Name()
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close temp session: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		return "", fmt.Errorf("chmod temp session: %w", err)
	}

	return path, nil
}

// FinalPath returns the permanent path for a verified number.
func (s *Store) FinalPath(countryCode, phoneNumber string) string {
	return filepath.Join(s.dir, sanitize(countryCode), sanitize(phoneNumber)+sessionExt)
}

// Finalize renames a non-empty temp session into its permanent path.
func (s *Store) Finalize(tempPath, countryCode, phoneNumber string) (string, error) {
	info, err := os.Stat(tempPath)
	if err != nil {
		return "", fmt.Errorf("stat temp session: %w", domain.ErrEmptySession)
	}
	if info.Size() == 0 {
		return "", domain.ErrEmptySession
	}

	final := s.FinalPath(countryCode, phoneNumber)
	if err := os.MkdirAll(filepath.Dir(final), 0o700); err != nil {
		return "", fmt.Errorf("create country dir: %w", err)
	}

	if err := os.Rename(tempPath, final); err != nil {
		return "", fmt.Errorf("finalize session: %w", err)
	}

	// Rename succeeded but verify the result anyway; a corrupt final
	// file here means the reward check would read garbage later.
	if info, err := os.Stat(final); err != nil || info.Size() == 0 {
		s.logger.Error().Str("path", final).Msg("Finalized session file is missing or empty")
	}

	return final, nil
}

// DisposableCopy copies a session file to a throwaway path the caller
// must remove.
func (s *Store) DisposableCopy(path string) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open session: %w", err)
	}
	defer src.Close()

	dst, err := os.CreateTemp(filepath.Dir(path), "check_*"+sessionExt)
	if err != nil {
		return "", fmt.Errorf("create session copy: %w", err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", fmt.Errorf("copy session: %w", err)
	}
	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("close session copy: %w", err)
	}
	if err := os.Chmod(dst.Name(), 0o600); err != nil {
		os.Remove(dst.Name())
		return "", fmt.Errorf("chmod session copy: %w", err)
	}

	return dst.Name(), nil
}

// Remove deletes the permanent session file for a number, including the
// legacy root-level layout. Missing files are not an error.
func (s *Store) Remove(countryCode, phoneNumber string) error {
	paths := []string{
		s.FinalPath(countryCode, phoneNumber),
		filepath.Join(s.dir, sanitize(phoneNumber)+sessionExt),
	}

	for _, path := range paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove session %s: %w", path, err)
		}
	}
	return nil
}

// CountByCountry returns per-country counts of finalized session files.
func (s *Store) CountByCountry() (map[string]int, error) {
	counts := make(map[string]int)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			continue
		}
		n := 0
		for _, f := range files {
			name := f.Name()
			if strings.HasSuffix(name, sessionExt) && !strings.HasPrefix(name, "tmp_") && !strings.HasPrefix(name, "check_") {
				n++
			}
		}
		counts[entry.Name()] = n
	}

	return counts, nil
}

// PurgeCountry removes every session file for a country and the country
// directory itself, returning the number of files removed.
func (s *Store) PurgeCountry(countryCode string) (int, error) {
	dir := filepath.Join(s.dir, sanitize(countryCode))

	files, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read country dir: %w", err)
	}

	removed := 0
	for _, f := range files {
		if err := os.Remove(filepath.Join(dir, f.Name())); err == nil {
			removed++
		}
	}

	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		s.logger.Warn().Str("dir", dir).Err(err).Msg("Could not remove country dir")
	}

	return removed, nil
}

// CleanupTemp removes temp session files older than maxAge and empty
// country directories, returning the number of files removed.
func (s *Store) CleanupTemp(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	removed := 0

	err := filepath.WalkDir(s.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "tmp_") && !strings.HasPrefix(name, "check_") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
				s.logger.Debug().Str("path", path).Msg("Removed stale temp session")
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("walk sessions dir: %w", err)
	}

	// Drop country directories left empty by the sweep.
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return removed, nil
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(s.dir, entry.Name())
		if files, err := os.ReadDir(dir); err == nil && len(files) == 0 {
			_ = os.Remove(dir)
		}
	}

	return removed, nil
}

// sanitize keeps path components free of separators. Phone numbers and
// dialing codes keep their leading plus.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.', 0:
			return '_'
		}
		return r
	}, s)
}
