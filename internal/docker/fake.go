package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// Fake is an in-memory API implementation for tests. Containers and images
// are plain maps; every mutating call is recorded so tests can assert on
// the exact command sequence.
type Fake struct {
	mu sync.Mutex

	// Running maps container name to its running state. Containers absent
	// from the map do not exist.
	Running map[string]bool

	// Images maps image refs to the payload SaveImage writes.
	Images map[string][]byte

	// Loaded collects payloads passed to LoadImage.
	Loaded [][]byte

	// Calls records "stop <name>", "start <name>", "compose-up <dir>" in
	// invocation order.
	Calls []string

	// FailSave lists image refs whose SaveImage call should fail.
	FailSave map[string]bool
}

var _ API = (*Fake)(nil)

// NewFake returns an empty fake daemon.
func NewFake() *Fake {
	return &Fake{
		Running:  make(map[string]bool),
		Images:   make(map[string][]byte),
		FailSave: make(map[string]bool),
	}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
}

// FindContainer reports whether a container with the given name exists.
func (f *Fake) FindContainer(_ context.Context, name string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Running[name]; !ok {
		return "", false, nil
	}
	// The fake uses names as IDs.
	return name, true, nil
}

func (f *Fake) IsContainerRunning(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.Running[id]
	if !ok {
		return false, fmt.Errorf("no such container: %s", id)
	}
	return running, nil
}

func (f *Fake) StopContainer(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running, ok := f.Running[id]
	if !ok {
		return false, fmt.Errorf("no such container: %s", id)
	}
	if running {
		f.Running[id] = false
		f.record("stop " + id)
	}
	return running, nil
}

func (f *Fake) StartContainer(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.Running[id]; !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	f.Running[id] = true
	f.record("start " + id)
	return nil
}

func (f *Fake) ImageExists(_ context.Context, ref string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.Images[ref]
	return ok, nil
}

func (f *Fake) SaveImage(_ context.Context, ref string, dest io.Writer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailSave[ref] {
		return fmt.Errorf("save failed for %s", ref)
	}
	data, ok := f.Images[ref]
	if !ok {
		return fmt.Errorf("no such image: %s", ref)
	}
	_, err := dest.Write(data)
	return err
}

func (f *Fake) LoadImage(_ context.Context, src io.Reader) error {
	data, err := io.ReadAll(src)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Loaded = append(f.Loaded, data)
	f.record("load-image")
	return nil
}

func (f *Fake) ComposeUp(_ context.Context, dir string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("compose-up " + dir)
	return nil
}

// StoppedNames returns the names stopped so far, sorted, for assertions.
func (f *Fake) StoppedNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, call := range f.Calls {
		if len(call) > 5 && call[:5] == "stop " {
			names = append(names, call[5:])
		}
	}
	sort.Strings(names)
	return names
}
