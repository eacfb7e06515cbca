// Package statesync implements the StateSyncer: a
// one-way, allowlisted copy of session state from a live location to a
// candidate location, grounded on the teacher's pkg/volume.LocalDriver
// (directory-bound filesystem operations rooted at a base path) but
// generalized from "one volume, one driver" to "a fixed list of
// allowlisted paths, copied by mtime comparison."
package statesync

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gaia-project/gaia-core/internal/log"
)

// Syncer copies an allowlist of paths from LiveRoot to CandidateRoot.
// Direction is one-way: nothing ever reads from CandidateRoot to write
// into LiveRoot.
type Syncer struct {
	LiveRoot      string
	CandidateRoot string
	Allowlist     []string

	// MaintenanceActive reports whether the operator maintenance flag is
	// set; when true, Incremental is a no-op.
	MaintenanceActive func() bool

	running bool
}

// New constructs a Syncer over a fixed allowlist of relative paths
// (files or directories) under liveRoot/candidateRoot.
func New(liveRoot, candidateRoot string, allowlist []string, maintenanceActive func() bool) *Syncer {
	if maintenanceActive == nil {
		maintenanceActive = func() bool { return false }
	}
	return &Syncer{
		LiveRoot:          liveRoot,
		CandidateRoot:     candidateRoot,
		Allowlist:         allowlist,
		MaintenanceActive: maintenanceActive,
	}
}

// Running reports whether a sync is currently in progress, so the
// watchdog can skip a tick rather than overlap two syncs.
func (s *Syncer) Running() bool {
	return s.running
}

// Incremental copies only files whose live mtime is newer than the
// candidate's corresponding file (or that do not yet exist on the
// candidate side). A no-op while the maintenance flag is set.
func (s *Syncer) Incremental() error {
	if s.MaintenanceActive() {
		log.WithComponent("statesync").Debug().Msg("maintenance active; skipping incremental sync")
		return nil
	}

	s.running = true
	defer func() { s.running = false }()

	for _, rel := range s.Allowlist {
		if err := s.syncPath(rel, false); err != nil {
			return fmt.Errorf("statesync: incremental sync of %s: %w", rel, err)
		}
	}
	return nil
}

// Full wipes the candidate side of the allowlist and copies everything
// unconditionally, ignoring mtimes. Not gated by the maintenance flag:
// an operator invoking Full has explicitly asked for a clean resync.
func (s *Syncer) Full() error {
	s.running = true
	defer func() { s.running = false }()

	for _, rel := range s.Allowlist {
		dst := filepath.Join(s.CandidateRoot, rel)
		if err := os.RemoveAll(dst); err != nil {
			return fmt.Errorf("statesync: full sync clear of %s: %w", rel, err)
		}
		if err := s.syncPath(rel, true); err != nil {
			return fmt.Errorf("statesync: full sync of %s: %w", rel, err)
		}
	}
	return nil
}

// syncPath walks one allowlisted path (file or directory) and copies
// any file newer than its candidate counterpart, or every file when
// force is true.
func (s *Syncer) syncPath(rel string, force bool) error {
	src := filepath.Join(s.LiveRoot, rel)

	info, err := os.Stat(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return s.copyIfNewer(rel, force)
	}

	return filepath.Walk(src, func(path string, walkInfo os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if walkInfo.IsDir() {
			return nil
		}
		childRel, err := filepath.Rel(s.LiveRoot, path)
		if err != nil {
			return err
		}
		return s.copyIfNewer(childRel, force)
	})
}

// copyIfNewer copies LiveRoot/rel to CandidateRoot/rel when the source
// is newer than the destination (or force is set, or the destination
// does not exist).
func (s *Syncer) copyIfNewer(rel string, force bool) error {
	src := filepath.Join(s.LiveRoot, rel)
	dst := filepath.Join(s.CandidateRoot, rel)

	srcInfo, err := os.Stat(src)
	if err != nil {
		return err
	}

	if !force {
		if dstInfo, err := os.Stat(dst); err == nil {
			if !srcInfo.ModTime().After(dstInfo.ModTime()) {
				return nil
			}
		}
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, dst)
}
