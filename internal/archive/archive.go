// Package archive reads and writes the two archive formats the orchestrator
// deals with: the vendor's zip distribution and hytalectl's own tar.gz
// backups.
package archive

import (
	"archive/tar"
	stdzip "archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	jujutar "github.com/juju/utils/v4/tar"
	"github.com/juju/utils/v4/zip"
)

// ErrEmpty is returned for archives without a single entry.
var ErrEmpty = errors.New("archive is empty")

// VerifyZip checks that src is a readable zip with at least one entry and
// that every entry header can be opened.
func VerifyZip(src string) error {
	r, err := stdzip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return ErrEmpty
	}
	for _, f := range r.File {
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("unreadable entry %q: %w", f.Name, err)
		}
		rc.Close()
	}
	return nil
}

// UncompressedSize sums the uncompressed sizes declared in src's headers.
func UncompressedSize(src string) (uint64, error) {
	r, err := stdzip.OpenReader(src)
	if err != nil {
		return 0, fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer r.Close()

	var total uint64
	for _, f := range r.File {
		total += f.UncompressedSize64
	}
	return total, nil
}

// ListZip returns the cleaned entry names of a zip archive.
func ListZip(src string) ([]string, error) {
	r, err := stdzip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return nil, ErrEmpty
	}
	names := make([]string, 0, len(r.File))
	for _, f := range r.File {
		if err := checkName(f.Name); err != nil {
			return nil, err
		}
		names = append(names, path.Clean(strings.ReplaceAll(f.Name, `\`, "/")))
	}
	return names, nil
}

// ExtractZip unpacks src into dst. Entries whose names would land outside
// dst are rejected before anything is written.
func ExtractZip(src, dst string) error {
	r, err := stdzip.OpenReader(src)
	if err != nil {
		return fmt.Errorf("failed to open zip %s: %w", src, err)
	}
	defer r.Close()

	if len(r.File) == 0 {
		return ErrEmpty
	}
	for _, f := range r.File {
		if err := checkName(f.Name); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := zip.ExtractAll(&r.Reader, dst); err != nil {
		return fmt.Errorf("failed to extract %s: %w", src, err)
	}
	return nil
}

// checkName rejects absolute names and names that climb out of the
// extraction root.
func checkName(name string) error {
	clean := path.Clean(strings.ReplaceAll(name, `\`, "/"))
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("entry %q escapes the extraction directory", name)
	}
	return nil
}

// CreateTarGz writes a gzip-compressed tarball of the given entries of root
// to dst. Entry names in the archive are relative to root. The archive is
// written to dst+".partial" and renamed into place once complete.
func CreateTarGz(root string, rels []string, dst string) error {
	if len(rels) == 0 {
		return ErrEmpty
	}

	files := make([]string, 0, len(rels))
	for _, rel := range rels {
		files = append(files, filepath.Join(root, filepath.FromSlash(rel)))
	}

	partial := dst + ".partial"
	out, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", partial, err)
	}

	gz := gzip.NewWriter(out)
	strip := filepath.Clean(root) + string(os.PathSeparator)
	if _, err := jujutar.TarFiles(files, gz, strip); err != nil {
		gz.Close()
		out.Close()
		os.Remove(partial)
		return fmt.Errorf("failed to write tarball: %w", err)
	}
	if err := gz.Close(); err != nil {
		out.Close()
		os.Remove(partial)
		return fmt.Errorf("failed to flush tarball: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to close tarball: %w", err)
	}

	if err := os.Rename(partial, dst); err != nil {
		os.Remove(partial)
		return fmt.Errorf("failed to finalize %s: %w", dst, err)
	}
	return nil
}

// ListTarGz returns the cleaned entry names of a tar.gz archive.
func ListTarGz(src string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip header of %s: %w", src, err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("corrupt tarball %s: %w", src, err)
		}
		if err := checkName(hdr.Name); err != nil {
			return nil, err
		}
		names = append(names, strings.TrimSuffix(path.Clean(hdr.Name), "/"))
	}
	if len(names) == 0 {
		return nil, ErrEmpty
	}
	return names, nil
}

// ExtractTarGz unpacks src into dst after validating every entry name.
func ExtractTarGz(src, dst string) error {
	if _, err := ListTarGz(src); err != nil {
		return err
	}

	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("failed to read gzip header of %s: %w", src, err)
	}
	defer gz.Close()

	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if err := jujutar.UntarFiles(gz, dst); err != nil {
		return fmt.Errorf("failed to extract %s: %w", src, err)
	}
	return nil
}

// ContentRoot returns the directory under extractRoot that holds the
// distribution. If none of markers exists at extractRoot and it contains
// exactly one directory, that directory is the content root. ok is false
// when no marker is found at the chosen root.
func ContentRoot(extractRoot string, markers []string) (root string, ok bool, err error) {
	if hasMarker(extractRoot, markers) {
		return extractRoot, true, nil
	}

	entries, err := os.ReadDir(extractRoot)
	if err != nil {
		return "", false, fmt.Errorf("failed to read %s: %w", extractRoot, err)
	}
	if len(entries) == 1 && entries[0].IsDir() {
		inner := filepath.Join(extractRoot, entries[0].Name())
		return inner, hasMarker(inner, markers), nil
	}
	return extractRoot, false, nil
}

func hasMarker(dir string, markers []string) bool {
	for _, m := range markers {
		if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(m))); err == nil {
			return true
		}
	}
	return false
}
