// Package archive packs a job's results directory into the single file delivered to
// the submitter. Every entry sits under a top-level directory named by the job id.
package archive

import (
	"archive/tar"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	FormatTar = "tar"
	FormatZip = "zip"
)

// Extension maps a results format to the archive suffix. Anything but "tar" is a zip.
func Extension(format string) string {
	if format == FormatTar {
		return ".tar.gz"
	}
	return ".zip"
}

// Compress packs srcDir into outDir/<jobID><ext> and returns the archive path and its file name.
// An existing archive of the same name is replaced.
func Compress(format, jobID, srcDir, outDir string) (string, string, error) {
	name := jobID + Extension(format)
	dst := filepath.Join(outDir, name)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", "", errors.Wrapf(err, "creating %s", outDir)
	}
	if info, err := os.Stat(srcDir); err != nil || !info.IsDir() {
		return "", "", errors.Errorf("results directory %s is missing", srcDir)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", "", errors.Wrapf(err, "creating archive %s", dst)
	}
	if format == FormatTar {
		err = writeTarGz(f, jobID, srcDir)
	} else {
		err = writeZip(f, jobID, srcDir)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return "", "", errors.Wrapf(err, "compressing %s", srcDir)
	}
	log.Infof("Compressed %s into %s", srcDir, dst)
	return dst, name, nil
}

// walk visits every entry below srcDir with its slash-separated archive name under root.
func walk(root, srcDir string, fn func(name, path string, info fs.FileInfo) error) error {
	return filepath.Walk(srcDir, func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, p)
		if err != nil {
			return err
		}
		name := root
		if rel != "." {
			name = path.Join(root, filepath.ToSlash(rel))
		}
		return fn(name, p, info)
	})
}

func writeZip(w io.Writer, root, srcDir string) error {
	zw := zip.NewWriter(w)
	err := walk(root, srcDir, func(name, p string, info fs.FileInfo) error {
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
			_, err = zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		entry, err := zw.CreateHeader(hdr)
		if err != nil {
			return err
		}
		return copyFrom(entry, p)
	})
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeTarGz(w io.Writer, root, srcDir string) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)
	err := walk(root, srcDir, func(name, p string, info fs.FileInfo) error {
		if !info.IsDir() && !info.Mode().IsRegular() {
			log.Debugf("Skipping non-regular file %s", p)
			return nil
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = name
		if info.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return copyFrom(tw, p)
	})
	if cerr := tw.Close(); err == nil {
		err = cerr
	}
	if cerr := gz.Close(); err == nil {
		err = cerr
	}
	return err
}

func copyFrom(w io.Writer, p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(w, f)
	return err
}
