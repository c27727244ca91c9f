package storage

import (
	"context"
	"os"
	"strings"
	"sync"
)

var _ Runner = (*FakeRunner)(nil)

// FakeRunner records commands instead of running them. Handler, when set,
// decides each command's output; otherwise every command succeeds silently.
type FakeRunner struct {
	mu      sync.Mutex
	calls   []string
	Handler func(cmd string) ([]byte, error)
}

func (f *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := strings.TrimSpace(name + " " + strings.Join(args, " "))
	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	h := f.Handler
	f.mu.Unlock()
	if h == nil {
		return nil, nil
	}

	return h(cmd)
}

// Calls returns every recorded command line.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

// Matching returns the recorded command lines containing all of subs.
func (f *FakeRunner) Matching(subs ...string) []string {
	out := []string{}
	for _, c := range f.Calls() {
		ok := true
		for _, s := range subs {
			if !strings.Contains(c, s) {
				ok = false
				break
			}
		}

		if ok {
			out = append(out, c)
		}
	}

	return out
}

func (f *FakeRunner) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

var _ ObjectStore = (*MemoryObjects)(nil)

// MemoryObjects is an in-memory ObjectStore. Fail, when set, is consulted
// before every operation ("put", "get", "rm") and its error returned.
type MemoryObjects struct {
	mu      sync.Mutex
	objects map[string][]byte
	writes  []string
	Fail    func(op, pool, object string) error
}

func key(pool, object string) string { return pool + "/" + object }

func (m *MemoryObjects) fail(op, pool, object string) error {
	if m.Fail == nil {
		return nil
	}

	return m.Fail(op, pool, object)
}

func (m *MemoryObjects) Put(ctx context.Context, pool, object string, content []byte) error {
	if err := m.fail("put", pool, object); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = map[string][]byte{}
	}

	m.objects[key(pool, object)] = append([]byte{}, content...)
	m.writes = append(m.writes, key(pool, object))
	return nil
}

func (m *MemoryObjects) Get(ctx context.Context, pool, object string) ([]byte, error) {
	if err := m.fail("get", pool, object); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key(pool, object)]
	if !ok {
		return nil, &CommandError{Cmd: "rados get " + object, Err: os.ErrNotExist}
	}

	return append([]byte{}, b...), nil
}

func (m *MemoryObjects) Remove(ctx context.Context, pool, object string) error {
	if err := m.fail("rm", pool, object); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key(pool, object))
	return nil
}

// Writes returns the successful puts in order, as "pool/object".
func (m *MemoryObjects) Writes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.writes...)
}

// Object returns the current content of an object, if present.
func (m *MemoryObjects) Object(pool, object string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.objects[key(pool, object)]
	return b, ok
}
