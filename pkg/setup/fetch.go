package setup

import (
	"archive/tar"
	"archive/zip"
	"compress/bzip2"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
	"github.com/ulikunitz/xz"
)

var fetchClient = &http.Client{
	Timeout: time.Minute * 30,
}

func getProgressBar(length int64, desc string, visible bool) *progressbar.ProgressBar {
	if !visible || os.Getenv("CI") == "true" {
		return progressbar.NewOptions64(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.DefaultBytes(length, desc)
}

func fetch(ctx context.Context, spec *FetchSpec, progress bool) error {
	arHandle, err := ioutil.TempFile("", "ass-download-*")
	if err != nil {
		return eris.Wrap(err, "Failed to create temporary download file")
	}
	defer func() {
		arHandle.Close()
		os.Remove(arHandle.Name())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, spec.URL, nil)
	if err != nil {
		return eris.Wrapf(err, "Invalid download URL %s", spec.URL)
	}

	resp, err := fetchClient.Do(req)
	if err != nil {
		return eris.Wrapf(err, "Failed to start download for %s", spec.URL)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return eris.Errorf("Download of %s failed with status %s", spec.URL, resp.Status)
	}

	hash := sha256.New()
	bar := getProgressBar(resp.ContentLength, "     download", progress)
	_, err = io.Copy(io.MultiWriter(arHandle, hash, bar), resp.Body)
	if err != nil {
		return eris.Wrapf(err, "Failed during download of %s", spec.URL)
	}
	bar.Finish()
	resp.Body.Close()

	digest := hex.EncodeToString(hash.Sum(nil))
	if !strings.EqualFold(digest, spec.Sha256) {
		return eris.Errorf("Checksum check failed for %s: expected %s but got %s", spec.URL, spec.Sha256, digest)
	}

	destInfo, err := os.Lstat(spec.Dest)
	if err == nil {
		log(ctx).Info().Msgf("Remove %s", spec.Dest)
		if destInfo.IsDir() {
			err = os.RemoveAll(spec.Dest)
		} else {
			err = os.Remove(spec.Dest)
		}
		if err != nil {
			return eris.Wrapf(err, "Failed to remove %s", spec.Dest)
		}
	} else if !eris.Is(err, os.ErrNotExist) {
		return eris.Wrapf(err, "Failed to check %s", spec.Dest)
	}

	extractor := getExtractor(spec.URL)

	_, err = arHandle.Seek(0, io.SeekStart)
	if err != nil {
		return eris.Wrap(err, "Failed to rewind download")
	}

	bar = getProgressBar(resp.ContentLength, "      extract", progress)
	err = extractor(arHandle, bar, spec)
	if err != nil {
		return err
	}
	bar.Finish()

	if runtime.GOOS != "windows" {
		// .zip files don't carry permissions which means we have to manually fix permissions for binaries in .zip files
		for _, binPath := range spec.MarkExec {
			binPath = filepath.Join(spec.Dest, binPath)
			fi, err := os.Stat(binPath)
			if err != nil {
				return eris.Wrapf(err, "Failed to read permissions for %s", binPath)
			}

			err = os.Chmod(binPath, fi.Mode()|0700)
			if err != nil {
				return eris.Wrapf(err, "Failed to mark %s as executable", binPath)
			}
		}
	}

	return nil
}

type archiveExtractor func(*os.File, *progressbar.ProgressBar, *FetchSpec) error

// openExtractorDest creates the file for the archive entry item. It returns a nil handle for
// entries that vanish because of strip.
func openExtractorDest(item string, mode os.FileMode, spec *FetchSpec) (*os.File, string, error) {
	dest, err := extractorDestPath(item, spec)
	if err != nil || dest == "" {
		return nil, "", err
	}

	err = checkDestComponents(spec.Dest, dest)
	if err != nil {
		return nil, "", err
	}

	destParent := filepath.Dir(dest)
	err = os.MkdirAll(destParent, os.FileMode(0755))
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create directory %s", destParent)
	}

	if mode == 0 {
		mode = 0644
	}

	destHandle, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode.Perm())
	if err != nil {
		return nil, "", eris.Wrapf(err, "Failed to create file %s", dest)
	}

	return destHandle, dest, nil
}

// extractorDestPath normalizes the path and strips spec.Strip elements from the beginning
func extractorDestPath(item string, spec *FetchSpec) (string, error) {
	pathParts := strings.Split(path.Clean(strings.TrimPrefix(filepath.ToSlash(item), "/")), "/")
	if len(pathParts) <= spec.Strip {
		return "", nil
	}

	dest := filepath.Join(spec.Dest, filepath.Join(pathParts[spec.Strip:]...))
	rel, err := filepath.Rel(spec.Dest, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", eris.Errorf("archive entry %s points outside of %s", item, spec.Dest)
	}

	if rel == "." {
		return "", nil
	}

	return dest, nil
}

// checkSymlinkTarget rejects links that are absolute or resolve outside of spec.Dest
func checkSymlinkTarget(item, target, dest string, spec *FetchSpec) error {
	if filepath.IsAbs(target) || path.IsAbs(filepath.ToSlash(target)) {
		return eris.Errorf("archive entry %s links to the absolute path %s", item, target)
	}

	resolved := filepath.Join(filepath.Dir(dest), target)
	rel, err := filepath.Rel(spec.Dest, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return eris.Errorf("archive entry %s links to %s which points outside of %s", item, target, spec.Dest)
	}

	return nil
}

// checkDestComponents makes sure that no existing element between root and dest (dest included)
// is a symlink so that extracted entries can't be redirected by links from earlier entries.
func checkDestComponents(root, dest string) error {
	rel, err := filepath.Rel(root, dest)
	if err != nil {
		return eris.Wrapf(err, "Failed to resolve %s relative to %s", dest, root)
	}

	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return eris.Wrapf(err, "Failed to check %s", current)
		}

		if info.Mode()&os.ModeSymlink != 0 {
			return eris.Errorf("archive entry %s would be written through the symlink %s", dest, current)
		}
	}

	return nil
}

func getExtractor(rawURL string) archiveExtractor {
	name := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		name = parsed.Path
	}

	switch {
	case strings.HasSuffix(name, ".zip"):
		return extractZip
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return func(f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
			reader, err := gzip.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open gzip stream")
			}
			defer reader.Close()

			return extractTar(reader, f, bar, spec)
		}
	case strings.HasSuffix(name, ".tar.bz2"):
		return func(f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
			return extractTar(bzip2.NewReader(f), f, bar, spec)
		}
	case strings.HasSuffix(name, ".tar.xz"):
		return func(f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
			reader, err := xz.NewReader(f)
			if err != nil {
				return eris.Wrap(err, "Failed to open xz stream")
			}

			return extractTar(reader, f, bar, spec)
		}
	}

	return copyPlain
}

func copyPlain(f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
	err := os.MkdirAll(filepath.Dir(spec.Dest), 0755)
	if err != nil {
		return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(spec.Dest))
	}

	destHandle, err := os.OpenFile(spec.Dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return eris.Wrapf(err, "Failed to create file %s", spec.Dest)
	}
	defer destHandle.Close()

	_, err = io.Copy(io.MultiWriter(destHandle, bar), f)
	if err != nil {
		return eris.Wrapf(err, "Failed to write %s", spec.Dest)
	}

	return destHandle.Close()
}

func extractZip(f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
	stat, err := f.Stat()
	if err != nil {
		return err
	}

	archive, err := zip.NewReader(f, stat.Size())
	if err != nil {
		return eris.Wrap(err, "Failed to open zip archive")
	}

	for _, item := range archive.File {
		if strings.HasSuffix(item.Name, "/") {
			continue
		}

		err = extractZipEntry(item, spec)
		if err != nil {
			return err
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}

	return nil
}

func extractZipEntry(item *zip.File, spec *FetchSpec) error {
	destHandle, dest, err := openExtractorDest(item.Name, item.Mode(), spec)
	if err != nil || destHandle == nil {
		return err
	}
	defer destHandle.Close()

	itemHandle, err := item.Open()
	if err != nil {
		return eris.Wrap(err, "Failed to open archive entry")
	}
	defer itemHandle.Close()

	_, err = io.Copy(destHandle, itemHandle)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}

func extractTar(r io.Reader, f *os.File, bar *progressbar.ProgressBar, spec *FetchSpec) error {
	archive := tar.NewReader(r)

	for {
		item, err := archive.Next()
		if err != nil {
			if err == io.EOF {
				break
			}

			return eris.Wrap(err, "Failed to read archive entry")
		}

		switch item.Typeflag {
		case tar.TypeDir:
			dest, err := extractorDestPath(item.Name, spec)
			if err != nil {
				return err
			}
			if dest != "" {
				err = checkDestComponents(spec.Dest, dest)
				if err != nil {
					return err
				}

				err = os.MkdirAll(dest, 0755)
				if err != nil {
					return eris.Wrapf(err, "Failed to create directory %s", dest)
				}
			}
		case tar.TypeSymlink:
			dest, err := extractorDestPath(item.Name, spec)
			if err != nil {
				return err
			}
			if dest == "" {
				continue
			}

			err = checkSymlinkTarget(item.Name, item.Linkname, dest, spec)
			if err != nil {
				return err
			}

			err = checkDestComponents(spec.Dest, dest)
			if err != nil {
				return err
			}

			err = os.MkdirAll(filepath.Dir(dest), 0755)
			if err != nil {
				return eris.Wrapf(err, "Failed to create directory %s", filepath.Dir(dest))
			}

			err = os.Symlink(item.Linkname, dest)
			if err != nil {
				return eris.Wrapf(err, "Failed to create symlink %s pointing to %s", dest, item.Linkname)
			}
		case tar.TypeReg:
			err = extractTarEntry(archive, item, spec)
			if err != nil {
				return err
			}
		default:
			// devices, fifos and hard links have no place in a tool download
			continue
		}

		pos, err := f.Seek(0, io.SeekCurrent)
		if err == nil {
			bar.Set64(pos)
		}
	}

	return nil
}

func extractTarEntry(archive *tar.Reader, item *tar.Header, spec *FetchSpec) error {
	destHandle, dest, err := openExtractorDest(item.Name, item.FileInfo().Mode(), spec)
	if err != nil || destHandle == nil {
		return err
	}
	defer destHandle.Close()

	_, err = io.Copy(destHandle, archive)
	if err != nil {
		return eris.Wrapf(err, "Failed to write extracted file %s", dest)
	}

	return destHandle.Close()
}
