// Package render writes the gateway's configuration files from the current
// pool fact and restarts the services whose files changed.
package render

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	"github.com/alphauslabs/nfsgw/internal/service"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/emirpasic/gods/sets/treeset"
	"github.com/golang/glog"
)

var (
	// ErrPoolUnavailable is returned when there is nothing to render yet.
	ErrPoolUnavailable = errors.New("pool not available")

	//go:embed templates/*.tmpl
	templates embed.FS
)

// RestartError means a file changed but its service could not be restarted.
type RestartError struct {
	Service string
	Err     error
}

func (e *RestartError) Error() string {
	return fmt.Sprintf("restart %v: %v", e.Service, e.Err)
}

func (e *RestartError) Unwrap() error { return e.Err }

// Context is the data every template sees.
type Context struct {
	storage.PoolFact
	PoolName string
	Client   string
	Hostname string
	CephConf string
}

// File is one rendered target and the services that depend on it.
type File struct {
	Path     string
	Template string
	Mode     fs.FileMode
	Services []string
}

// Files returns the gateway's config set rooted at the given directories.
func Files(cephDir, ganeshaDir string) []File {
	svcs := []string{service.Ganesha}
	return []File{
		{Path: filepath.Join(cephDir, "ceph.conf"), Template: "ceph.conf.tmpl", Mode: 0o644, Services: svcs},
		{Path: filepath.Join(cephDir, "ganesha", "ceph.keyring"), Template: "ceph.keyring.tmpl", Mode: 0o600, Services: svcs},
		{Path: filepath.Join(ganeshaDir, "ganesha.conf"), Template: "ganesha.conf.tmpl", Mode: 0o644, Services: svcs},
	}
}

type Result struct {
	Changed   []string // paths written
	Restarted []string // services restarted, in order
}

type Renderer struct {
	Files    []File
	Services service.Manager

	tmpl *template.Template
}

func New(files []File, svc service.Manager) (*Renderer, error) {
	t, err := template.New("").
		Funcs(template.FuncMap{"join": strings.Join}).
		Option("missingkey=error").
		ParseFS(templates, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}

	return &Renderer{Files: files, Services: svc, tmpl: t}, nil
}

// Content renders a single file without touching the disk.
func (r *Renderer) Content(f File, in Context) ([]byte, error) {
	var b bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&b, f.Template, in); err != nil {
		return nil, fmt.Errorf("render %v: %w", f.Path, err)
	}

	return b.Bytes(), nil
}

// Render writes every file whose content differs from what is on disk, then
// restarts each affected service exactly once, in name order. Nothing is
// restarted when nothing changed.
func (r *Renderer) Render(ctx context.Context, in Context) (Result, error) {
	defer func(begin time.Time) {
		glog.V(2).Infof("render took %v", time.Since(begin))
	}(time.Now())

	var res Result
	if !in.Available {
		return res, ErrPoolUnavailable
	}

	restart := treeset.NewWithStringComparator()
	for _, f := range r.Files {
		b, err := r.Content(f, in)
		if err != nil {
			return res, err
		}

		if !changed(f.Path, b) {
			continue
		}

		if err := WriteFile(f.Path, b, f.Mode); err != nil {
			return res, fmt.Errorf("write %v: %w", f.Path, err)
		}

		glog.Infof("rendered %v", f.Path)
		res.Changed = append(res.Changed, f.Path)
		for _, s := range f.Services {
			restart.Add(s)
		}
	}

	if restart.Empty() {
		return res, nil
	}

	if err := r.Services.DaemonReload(ctx); err != nil {
		return res, &RestartError{Service: "daemon-reload", Err: err}
	}

	for _, v := range restart.Values() {
		name := v.(string)
		if err := r.Services.Restart(ctx, name); err != nil {
			return res, &RestartError{Service: name, Err: err}
		}

		res.Restarted = append(res.Restarted, name)
	}

	return res, nil
}

func changed(path string, content []byte) bool {
	old, err := os.ReadFile(path)
	if err != nil {
		return true
	}

	return sha256.Sum256(old) != sha256.Sum256(content)
}

// WriteFile writes data to path atomically: temp file, fsync, rename.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("mkdir %v: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}

	name := tmp.Name()
	defer func() {
		tmp.Close()
		os.Remove(name)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}

	if err := os.Chmod(name, perm); err != nil {
		return err
	}

	return os.Rename(name, path)
}
