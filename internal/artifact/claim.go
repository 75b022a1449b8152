package artifact

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// tmpPrefix marks staging siblings. A crash leaves only these behind; no
// final path is ever partially written.
const tmpPrefix = ".tmp-"

// ErrClaimConflict indicates another producer holds the staging path for the
// same final artifact.
var ErrClaimConflict = errors.New("artifact: already claimed")

// Status of one final artifact path.
type Status int

// Artifact states. Present wins over Claimed when both paths exist.
const (
	StatusAbsent Status = iota
	StatusClaimed
	StatusPresent
)

func (s Status) String() string {
	switch s {
	case StatusClaimed:
		return "claimed"
	case StatusPresent:
		return "present"
	default:
		return "absent"
	}
}

// Claim is an exclusive, in-flight build of one artifact. The producer
// writes into StagingPath and then either Commits (rename to final) or
// Aborts (remove staging).
type Claim struct {
	staging string
	final   string
	dir     bool
}

// StagingPath is where the producer writes its output.
func (c *Claim) StagingPath() string { return c.staging }

// FinalPath is where the artifact lands on commit.
func (c *Claim) FinalPath() string { return c.final }

// Commit atomically publishes the staged output at the final path. On a
// failed rename the staging path is removed, releasing the claim for a
// later cycle.
func (c *Claim) Commit() error {
	err := os.Rename(c.staging, c.final)
	if err != nil {
		_ = c.Abort()

		return fmt.Errorf("artifact: commit %s: %w", c.final, err)
	}

	return nil
}

// Abort discards the staged output. The final path is untouched.
func (c *Claim) Abort() error {
	var err error
	if c.dir {
		err = os.RemoveAll(c.staging)
	} else {
		err = os.Remove(c.staging)
	}

	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("artifact: abort %s: %w", c.final, err)
	}

	return nil
}

func stagingFor(finalPath string) string {
	return filepath.Join(filepath.Dir(finalPath), tmpPrefix+filepath.Base(finalPath))
}

// Claim acquires the exclusive staging file for a file artifact at
// finalPath, creating parent directories as needed. ErrClaimConflict means
// another producer is building the same artifact.
func (t *Tree) Claim(finalPath string) (*Claim, error) {
	staging := stagingFor(finalPath)

	err := os.MkdirAll(filepath.Dir(finalPath), 0o750)
	if err != nil {
		return nil, fmt.Errorf("artifact: claim %s: %w", finalPath, err)
	}

	f, err := os.OpenFile(staging, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrClaimConflict, finalPath)
		}

		return nil, fmt.Errorf("artifact: claim %s: %w", finalPath, err)
	}

	if closeErr := f.Close(); closeErr != nil {
		os.Remove(staging)

		return nil, fmt.Errorf("artifact: claim %s: %w", finalPath, closeErr)
	}

	return &Claim{staging: staging, final: finalPath}, nil
}

// ClaimDir acquires the exclusive staging directory for a directory
// artifact at finalPath.
func (t *Tree) ClaimDir(finalPath string) (*Claim, error) {
	staging := stagingFor(finalPath)

	err := os.MkdirAll(filepath.Dir(finalPath), 0o750)
	if err != nil {
		return nil, fmt.Errorf("artifact: claim %s: %w", finalPath, err)
	}

	err = os.Mkdir(staging, 0o750)
	if err != nil {
		if os.IsExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrClaimConflict, finalPath)
		}

		return nil, fmt.Errorf("artifact: claim %s: %w", finalPath, err)
	}

	return &Claim{staging: staging, final: finalPath, dir: true}, nil
}

// Status reports the state of the artifact at finalPath.
func (t *Tree) Status(finalPath string) Status {
	if _, err := os.Stat(finalPath); err == nil {
		return StatusPresent
	}

	if _, err := os.Stat(stagingFor(finalPath)); err == nil {
		return StatusClaimed
	}

	return StatusAbsent
}

// Present reports whether the artifact at finalPath is complete.
func (t *Tree) Present(finalPath string) bool {
	return t.Status(finalPath) == StatusPresent
}

// Invalidate removes final artifacts so they are recomputed. Directories
// are removed recursively; missing paths are ignored.
func (t *Tree) Invalidate(paths ...string) error {
	for _, path := range paths {
		err := os.RemoveAll(path)
		if err != nil {
			return fmt.Errorf("artifact: invalidate %s: %w", path, err)
		}
	}

	return nil
}

// SweepStaging removes orphaned staging paths under dir, left behind by a
// crashed producer. It walks the whole subtree.
func SweepStaging(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}

			return err
		}

		if !strings.HasPrefix(d.Name(), tmpPrefix) {
			return nil
		}

		rmErr := os.RemoveAll(path)
		if rmErr != nil {
			return fmt.Errorf("artifact: sweep %s: %w", path, rmErr)
		}

		if d.IsDir() {
			return filepath.SkipDir
		}

		return nil
	})
}
