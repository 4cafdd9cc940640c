// Atomic artifact storage
//
// Copyright (C) 2026  Bend5x Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package pipeline

import (
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"bend5x/pkg/errors"
	"bend5x/pkg/gcode"
)

// Artifact name prefixes, one per stage output.
const (
	PrefixBent      = "BENT_"
	PrefixTranslate = "IK_"
	PrefixEmit      = "KLIPPER_"
)

// lockName is the per-directory promotion lock. Concurrent runs share
// the artifact namespace; promotion is serialized so a rename never
// races a concurrent reader's open.
const lockName = ".bend5x.lock"

// writeArtifact writes lines to a run-unique temporary file in dir and
// promotes it to name only after a complete, synced write. A failure at
// any point removes the temporary file; the final name either holds a
// complete artifact or does not exist.
func writeArtifact(dir, name string, lines []gcode.Line) (string, int64, error) {
	final := filepath.Join(dir, name)
	tmp := filepath.Join(dir, "."+name+"."+uuid.NewString()+".tmp")

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", 0, errors.IOError(err, tmp)
	}
	if err := gcode.WriteProgram(f, lines); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, errors.IOError(err, tmp)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, errors.IOError(err, tmp)
	}
	size, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		os.Remove(tmp)
		return "", 0, errors.IOError(err, tmp)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", 0, errors.IOError(err, tmp)
	}

	if err := promote(dir, tmp, final); err != nil {
		os.Remove(tmp)
		return "", 0, err
	}
	return final, size, nil
}

// promote renames tmp to final under the directory lock.
func promote(dir, tmp, final string) error {
	lock, err := os.OpenFile(filepath.Join(dir, lockName), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return errors.IOError(err, filepath.Join(dir, lockName))
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return errors.IOError(err, filepath.Join(dir, lockName))
	}
	defer unix.Flock(int(lock.Fd()), unix.LOCK_UN)

	if err := os.Rename(tmp, final); err != nil {
		return errors.IOError(err, final)
	}
	return nil
}

// readArtifact parses the artifact at path. A missing or unreadable
// file is a stage dependency error, not a plain I/O error: the caller
// asked for a stage whose prerequisite was never produced.
func readArtifact(path string) ([]gcode.Line, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.DependencyError(path, "prerequisite artifact not available: %v", err)
	}
	defer f.Close()

	lines, err := gcode.ParseProgram(f)
	if err != nil {
		return nil, errors.DependencyError(path, "prerequisite artifact unreadable: %v", err)
	}
	return lines, nil
}
