package resolve

import (
	"fmt"
	"io/fs"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/srodi/proctop-bpf/pkg/types"
)

// Cgroup is what a cgroup id resolves to.
type Cgroup struct {
	Path      string
	Container types.Container
	Service   string
}

// Cgroups maps cgroup ids (kernfs inode numbers) to paths under a cgroup2
// mount. The index is rebuilt every refreshEvery calls to Tick.
type Cgroups struct {
	root         string
	refreshEvery int
	ticks        int
	index        map[uint64]string
	parsed       *lru.Cache
	log          logrus.FieldLogger
}

// NewCgroups builds a resolver for the hierarchy mounted at root.
func NewCgroups(root string, refreshEvery int, log logrus.FieldLogger) (*Cgroups, error) {
	if refreshEvery < 1 {
		refreshEvery = 1
	}
	parsed, err := lru.New(4096)
	if err != nil {
		return nil, fmt.Errorf("creating cgroup cache: %w", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Cgroups{
		root:         root,
		refreshEvery: refreshEvery,
		index:        map[uint64]string{},
		parsed:       parsed,
		log:          log.WithField("component", "cgroups"),
	}, nil
}

// Tick is called once per collection cycle and rebuilds the index on the
// first call and every refreshEvery calls after that.
func (c *Cgroups) Tick() {
	if c.ticks%c.refreshEvery == 0 {
		if err := c.Refresh(); err != nil {
			c.log.WithError(err).Warn("cgroup index refresh failed")
		}
	}
	c.ticks++
}

// Refresh walks the hierarchy and replaces the index.
func (c *Cgroups) Refresh() error {
	index := make(map[uint64]string, len(c.index))
	err := filepath.WalkDir(c.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// cgroups vanish while we walk
			if path == c.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		var st unix.Stat_t
		if err := unix.Stat(path, &st); err != nil {
			return nil
		}
		rel, err := filepath.Rel(c.root, path)
		if err != nil {
			return nil
		}
		if rel == "." {
			rel = ""
		}
		index[st.Ino] = "/" + rel
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking %s: %w", c.root, err)
	}
	c.index = index
	return nil
}

// Len reports the number of indexed cgroups.
func (c *Cgroups) Len() int {
	return len(c.index)
}

// Resolve returns the cgroup for id. Unknown ids resolve to the zero Cgroup
// until the next refresh picks them up.
func (c *Cgroups) Resolve(id uint64) Cgroup {
	if id == 0 {
		return Cgroup{}
	}
	path, ok := c.index[id]
	if !ok {
		return Cgroup{}
	}
	if v, ok := c.parsed.Get(path); ok {
		return v.(Cgroup)
	}
	cg := Cgroup{Path: path, Service: ParseService(path)}
	cg.Container, _ = ParseContainer(path)
	c.parsed.Add(path, cg)
	return cg
}
