// Package ganesha manages the NFS exports of the cluster. A share is a CephFS
// subvolume exported through a RADOS object (ganesha-export-<id>) listed in
// the shared export index that every gateway watches.
package ganesha

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"text/template"

	"github.com/alphauslabs/nfsgw/internal/bootstrap"
	"github.com/alphauslabs/nfsgw/internal/storage"
	"github.com/golang/glog"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

var (
	ErrNotFound     = errors.New("share not found")
	ErrInvalidShare = errors.New("invalid share")

	validName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

	exportTmpl = template.Must(template.New("export").Parse(`EXPORT {
    Export_Id = {{ .Id }};
    Path = "{{ .Path }}";
    Pseudo = "{{ .Path }}";
    Protocols = 4;
    Transports = TCP;
    Access_Type = RW;
    Squash = None;
    Tag = "{{ .Name }}";
    FSAL {
        Name = CEPH;
        User_Id = "{{ .Client }}";
        Filesystem = "{{ .FsName }}";
    }
}
`))

	exportField = regexp.MustCompile(`^\s*(Export_Id|Path|Tag)\s*=\s*"?([^";]*)"?\s*;`)
)

const gib = 1 << 30

type Export struct {
	Id   int    `yaml:"id"`
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

func ObjectName(id int) string { return fmt.Sprintf("ganesha-export-%v", id) }

type Manager struct {
	Runner   storage.Runner
	Objects  storage.ObjectStore
	CephConf string
	Client   string        // gateway client identity
	Pool     func() string // export objects pool
	FsName   func() string // CephFS holding the subvolumes
}

func (m *Manager) ceph(ctx context.Context, args ...string) ([]byte, error) {
	base := []string{"-c", m.CephConf, "--id", m.Client}
	return m.Runner.Run(ctx, "ceph", append(base, args...)...)
}

// Create makes a subvolume of sizeGiB (0 for no quota) and exports it. An
// empty name gets a generated one.
func (m *Manager) Create(ctx context.Context, name string, sizeGiB int) (Export, error) {
	var out Export
	if name == "" {
		name = uuid.NewString()
	}

	if !validName.MatchString(name) || sizeGiB < 0 {
		return out, fmt.Errorf("%w: name=%q, size=%v", ErrInvalidShare, name, sizeGiB)
	}

	fs := m.FsName()
	args := []string{"fs", "subvolume", "create", fs, name}
	if sizeGiB > 0 {
		args = append(args, "--size", strconv.FormatInt(int64(sizeGiB)*gib, 10))
	}

	if _, err := m.ceph(ctx, args...); err != nil {
		return out, err
	}

	b, err := m.ceph(ctx, "fs", "subvolume", "getpath", fs, name)
	if err != nil {
		return out, err
	}

	id, err := m.nextId(ctx)
	if err != nil {
		return out, err
	}

	out = Export{Id: id, Name: name, Path: strings.TrimSpace(string(b))}
	var body bytes.Buffer
	err = exportTmpl.Execute(&body, struct {
		Export
		Client string
		FsName string
	}{out, m.Client, fs})
	if err != nil {
		return out, err
	}

	pool := m.Pool()
	if err := m.Objects.Put(ctx, pool, ObjectName(id), body.Bytes()); err != nil {
		return out, err
	}

	urls, err := m.index(ctx)
	if err != nil {
		return out, err
	}

	urls = append(urls, m.url(id))
	if err := m.putIndex(ctx, urls); err != nil {
		return out, err
	}

	glog.Infof("share %v created: id=%v, path=%v", name, id, out.Path)
	return out, nil
}

// List returns the exports referenced by the index.
func (m *Manager) List(ctx context.Context) ([]Export, error) {
	urls, err := m.index(ctx)
	if err != nil {
		return nil, err
	}

	out := []Export{}
	pool := m.Pool()
	for _, u := range urls {
		obj := u[strings.LastIndex(u, "/")+1:]
		b, err := m.Objects.Get(ctx, pool, obj)
		if err != nil {
			return nil, fmt.Errorf("get %v: %w", obj, err)
		}

		out = append(out, ParseExport(b))
	}

	return out, nil
}

// ListYAML is List formatted as a YAML sequence.
func (m *Manager) ListYAML(ctx context.Context) (string, error) {
	exports, err := m.List(ctx)
	if err != nil {
		return "", err
	}

	b, err := yaml.Marshal(exports)
	return string(b), err
}

// Delete removes the export tagged name and its subvolume.
func (m *Manager) Delete(ctx context.Context, name string) error {
	exports, err := m.List(ctx)
	if err != nil {
		return err
	}

	var found *Export
	for i := range exports {
		if exports[i].Name == name {
			found = &exports[i]
			break
		}
	}

	if found == nil {
		return fmt.Errorf("%w: %v", ErrNotFound, name)
	}

	urls, err := m.index(ctx)
	if err != nil {
		return err
	}

	keep := []string{}
	for _, u := range urls {
		if u != m.url(found.Id) {
			keep = append(keep, u)
		}
	}

	if err := m.putIndex(ctx, keep); err != nil {
		return err
	}

	if err := m.Objects.Remove(ctx, m.Pool(), ObjectName(found.Id)); err != nil {
		return err
	}

	if _, err := m.ceph(ctx, "fs", "subvolume", "rm", m.FsName(), name); err != nil {
		return err
	}

	glog.Infof("share %v deleted", name)
	return nil
}

func (m *Manager) url(id int) string {
	return fmt.Sprintf("%%url rados://%v/%v", m.Pool(), ObjectName(id))
}

func (m *Manager) nextId(ctx context.Context) (int, error) {
	pool := m.Pool()
	b, err := m.Objects.Get(ctx, pool, bootstrap.CounterObject)
	if err != nil {
		return 0, fmt.Errorf("get counter: %w", err)
	}

	id, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("bad counter %q: %w", b, err)
	}

	next := strconv.Itoa(id + 1)
	if err := m.Objects.Put(ctx, pool, bootstrap.CounterObject, []byte(next)); err != nil {
		return 0, fmt.Errorf("put counter: %w", err)
	}

	return id, nil
}

func (m *Manager) index(ctx context.Context) ([]string, error) {
	b, err := m.Objects.Get(ctx, m.Pool(), bootstrap.IndexObject)
	if err != nil {
		return nil, fmt.Errorf("get index: %w", err)
	}

	urls := []string{}
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if strings.HasPrefix(line, "%url ") {
			urls = append(urls, line)
		}
	}

	return urls, nil
}

func (m *Manager) putIndex(ctx context.Context, urls []string) error {
	var b bytes.Buffer
	for _, u := range urls {
		fmt.Fprintln(&b, u)
	}

	return m.Objects.Put(ctx, m.Pool(), bootstrap.IndexObject, b.Bytes())
}

// ParseExport reads the fields we care about from an EXPORT block.
func ParseExport(b []byte) Export {
	var e Export
	s := bufio.NewScanner(bytes.NewReader(b))
	for s.Scan() {
		m := exportField.FindStringSubmatch(s.Text())
		if m == nil {
			continue
		}

		switch m[1] {
		case "Export_Id":
			e.Id, _ = strconv.Atoi(strings.TrimSpace(m[2]))
		case "Path":
			e.Path = m[2]
		case "Tag":
			e.Name = m[2]
		}
	}

	return e
}
