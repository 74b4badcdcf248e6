package storage

import (
	"context"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

type localStorage struct {
	root string
}

// NewLocal returns a Storage backed by a directory tree, for dev mode and tests.
// gs://bucket/a/b maps to <root>/bucket/a/b.
func NewLocal(root string) Storage {
	return &localStorage{root: root}
}

func (l *localStorage) resolve(remote string) string {
	remote = strings.TrimPrefix(remote, "gs://")
	return filepath.Join(l.root, filepath.FromSlash(remote))
}

func (l *localStorage) Download(ctx context.Context, remote, localDir string, recursive bool) error {
	src := l.resolve(remote)
	if err := os.MkdirAll(localDir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", localDir)
	}
	dst := filepath.Join(localDir, filepath.Base(src))
	// prefix/* copies the prefix's contents, as gsutil does
	if filepath.Base(src) == "*" {
		src, dst = filepath.Dir(src), localDir
	}
	info, err := os.Stat(src)
	if err != nil {
		return errors.Wrapf(err, "downloading %s", remote)
	}
	if !info.IsDir() {
		return copyFile(src, dst)
	}
	if !recursive {
		return errors.Errorf("downloading %s: is a directory", remote)
	}
	log.Debugf("Copying tree %s to %s", src, dst)
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		return copyFile(path, target)
	})
}

func (l *localStorage) Upload(ctx context.Context, localPath, remote string) error {
	return copyFile(localPath, l.resolve(remote))
}

func (l *localStorage) SignedURL(ctx context.Context, remote string, ttl time.Duration) (string, error) {
	p := l.resolve(remote)
	if _, err := os.Stat(p); err != nil {
		return "", errors.Wrapf(err, "signing %s", remote)
	}
	u := url.URL{Scheme: "file", Path: p}
	return u.String(), nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "opening %s", src)
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(dst))
	}
	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "creating %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copying %s to %s", src, dst)
	}
	return out.Close()
}
