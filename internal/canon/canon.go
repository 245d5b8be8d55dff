// Package canon guarantees that a replay on disk ends up in its canonical
// ".rep.zip" form: a single-entry DEFLATE archive of the original bytes.
package canon

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SweepTemp removes any dangling "*.rep.zip.tmp" files left behind by a
// canonicalization that crashed between writing the archive and renaming it
// into place. Every "*.rep.zip.tmp" in the folder is removed, including one
// that an Ensure running at the same time is still writing.
func SweepTemp(replayFolder string) error {
	entries, err := os.ReadDir(replayFolder)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".rep.zip.tmp") {
			path := filepath.Join(replayFolder, e.Name())
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("canon: sweep %q: %w", path, err)
			}
		}
	}
	return nil
}

// Ensure makes sure path's replay ends up at its canonical ".rep.zip" form
// and returns that path. If path already ends in ".rep.zip" it is returned
// unchanged. Otherwise path must end in ".rep"; Ensure compresses it into
// "<stem>.rep.zip" (via a same-directory ".rep.zip.tmp" + rename, so a crash
// leaves at worst a stray temp file or a harmless .rep/.rep.zip pair) and
// unlinks the original.
func Ensure(path string) (string, error) {
	if strings.HasSuffix(path, ".rep.zip") {
		return path, nil
	}
	if !strings.HasSuffix(path, ".rep") {
		return "", fmt.Errorf("canon: %q is neither .rep nor .rep.zip", path)
	}

	target := path + ".zip"
	tmp := target + ".tmp"

	if err := writeZip(tmp, path); err != nil {
		return "", fmt.Errorf("canon: compress %q: %w", path, err)
	}

	// If we crash here, tmp is dangling; SweepTemp clears it, which index.Open
	// calls at startup and index.DB.Save calls after every save.
	if err := os.Rename(tmp, target); err != nil {
		return "", fmt.Errorf("canon: rename %q to %q: %w", tmp, target, err)
	}

	// If we crash here, both path and target exist; the reconciler treats
	// them as one logical replay and re-canonicalizes path on the next pass.
	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("canon: remove original %q: %w", path, err)
	}

	return target, nil
}

// writeZip writes a single-entry DEFLATE archive of srcPath's contents to
// dstPath, named after srcPath's base name.
func writeZip(dstPath, srcPath string) error {
	src, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.Create(dstPath)
	if err != nil {
		return err
	}

	zw := zip.NewWriter(out)
	entryName := filepath.Base(srcPath)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: entryName, Method: zip.Deflate})
	if err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if _, err := io.Copy(w, src); err != nil {
		zw.Close()
		out.Close()
		return err
	}
	if err := zw.Close(); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
