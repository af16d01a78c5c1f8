package extract

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"curio/internal/config"
	"curio/internal/services"
	"curio/internal/workers"
)

// unpacker extracts one archive tree, recursing into nested archives up to
// the profile's depth bound.
type unpacker struct {
	profile   config.ImportProfile
	cancelled func() (bool, error)
	progress  func(message string)
	nested    int
}

func (u *unpacker) unpack(ctx context.Context, archivePath, destDir string, depth int) error {
	maxDepth := u.profile.MaxNestingDepth
	if maxDepth <= 0 {
		maxDepth = 3
	}
	if depth > maxDepth {
		return services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("nesting depth exceeds %d: %s", maxDepth, filepath.Base(archivePath)), nil)
	}

	lower := strings.ToLower(archivePath)
	var err error
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = u.unpackZip(ctx, archivePath, destDir)
	case strings.HasSuffix(lower, ".tar"):
		err = u.unpackTar(ctx, archivePath, destDir, false)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		err = u.unpackTar(ctx, archivePath, destDir, true)
	default:
		return services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("unsupported archive %s", filepath.Base(archivePath)), nil)
	}
	if err != nil {
		return err
	}
	return u.extractNested(ctx, destDir, depth)
}

// extractNested finds archives produced by the previous pass and unpacks
// each into a sibling directory named after it, removing the archive file.
func (u *unpacker) extractNested(ctx context.Context, destDir string, depth int) error {
	var found []string
	err := filepath.Walk(destDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if workers.IsArchive(info.Name()) {
			found = append(found, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan for nested archives: %w", err)
	}

	for _, nested := range found {
		u.nested++
		if u.progress != nil {
			u.progress(fmt.Sprintf("Extracting nested %s", filepath.Base(nested)))
		}
		target := strings.TrimSuffix(nested, filepath.Ext(nested))
		if strings.HasSuffix(strings.ToLower(nested), ".tar.gz") {
			target = strings.TrimSuffix(target, filepath.Ext(target))
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return fmt.Errorf("create nested target: %w", err)
		}
		if err := u.unpack(ctx, nested, target, depth+1); err != nil {
			return err
		}
		if err := os.Remove(nested); err != nil {
			return fmt.Errorf("remove consumed nested archive: %w", err)
		}
	}
	return nil
}

func (u *unpacker) unpackZip(ctx context.Context, archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("corrupt archive %s", filepath.Base(archivePath)), err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		if stop, err := u.checkpoint(); stop || err != nil {
			if err != nil {
				return err
			}
			return workers.ErrCancelled
		}
		if u.profile.ShouldIgnore(entry.Name) {
			continue
		}
		if entry.FileInfo().IsDir() {
			continue
		}
		target, err := safeTarget(destDir, entry.Name)
		if err != nil {
			return err
		}
		if err := u.writeEntry(target, entry); err != nil {
			return err
		}
	}
	return nil
}

func (u *unpacker) writeEntry(target string, entry *zip.File) error {
	src, err := entry.Open()
	if err != nil {
		return services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("corrupt entry %s", entry.Name), err)
	}
	defer src.Close()
	return writeFile(target, src, entry.Name)
}

func (u *unpacker) unpackTar(ctx context.Context, archivePath, destDir string, gzipped bool) error {
	f, err := os.Open(archivePath)
	if err != nil {
		return services.Wrap(services.ErrTransient, "extract", "unpack", "open archive", err)
	}
	defer f.Close()

	var stream io.Reader = f
	if gzipped {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return services.Wrap(services.ErrFatal, "extract", "unpack",
				fmt.Sprintf("corrupt archive %s", filepath.Base(archivePath)), err)
		}
		defer gz.Close()
		stream = gz
	}

	tr := tar.NewReader(stream)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return services.Wrap(services.ErrFatal, "extract", "unpack",
				fmt.Sprintf("corrupt archive %s", filepath.Base(archivePath)), err)
		}
		if stop, cerr := u.checkpoint(); stop || cerr != nil {
			if cerr != nil {
				return cerr
			}
			return workers.ErrCancelled
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if u.profile.ShouldIgnore(header.Name) {
			continue
		}
		target, err := safeTarget(destDir, header.Name)
		if err != nil {
			return err
		}
		if err := writeFile(target, tr, header.Name); err != nil {
			return err
		}
	}
}

func (u *unpacker) checkpoint() (bool, error) {
	if u.cancelled == nil {
		return false, nil
	}
	return u.cancelled()
}

// safeTarget joins an archive entry path under destDir, rejecting entries
// that would escape it.
func safeTarget(destDir, entryName string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(entryName))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(os.PathSeparator)) || filepath.IsAbs(cleaned) {
		return "", services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("entry escapes extraction root: %s", entryName), nil)
	}
	return filepath.Join(destDir, cleaned), nil
}

func writeFile(target string, src io.Reader, entryName string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create entry directory: %w", err)
	}
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create extracted file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, src); err != nil {
		return services.Wrap(services.ErrFatal, "extract", "unpack",
			fmt.Sprintf("corrupt entry %s", entryName), err)
	}
	return nil
}
