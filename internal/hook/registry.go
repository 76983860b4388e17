package hook

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Module is the capability interface extension modules implement.
// Modules are registered explicitly at startup; there is no dynamic
// discovery. MinVersion declares the lowest host version the module
// supports ("" means any).
type Module interface {
	Name() string
	MinVersion() string
	Init(bus *Bus) error
	Shutdown()
}

// Registry holds the explicit module list and drives init/shutdown.
type Registry struct {
	hostVersion string
	bus         *Bus
	log         *slog.Logger
	modules     []Module
	active      []Module
}

func NewRegistry(hostVersion string, bus *Bus, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{hostVersion: hostVersion, bus: bus, log: log}
}

// Register adds a module. Duplicate names are rejected.
func (r *Registry) Register(m Module) error {
	for _, ex := range r.modules {
		if ex.Name() == m.Name() {
			return fmt.Errorf("module %q already registered", m.Name())
		}
	}
	r.modules = append(r.modules, m)
	return nil
}

// InitAll initializes registered modules in registration order. Modules
// whose MinVersion exceeds the host version are skipped with a warning;
// an init error from one module does not prevent the others.
func (r *Registry) InitAll() {
	for _, m := range r.modules {
		if min := m.MinVersion(); min != "" && CompareVersions(r.hostVersion, min) < 0 {
			r.log.Warn("skipping module, host too old",
				"module", m.Name(), "requires", min, "host", r.hostVersion)
			continue
		}
		if err := m.Init(r.bus); err != nil {
			r.log.Error("module init failed", "module", m.Name(), "err", err)
			continue
		}
		r.active = append(r.active, m)
	}
}

// ShutdownAll shuts active modules down in reverse init order.
func (r *Registry) ShutdownAll() {
	for i := len(r.active) - 1; i >= 0; i-- {
		r.active[i].Shutdown()
	}
	r.active = nil
}

// Active returns the names of successfully initialized modules.
func (r *Registry) Active() []string {
	out := make([]string, 0, len(r.active))
	for _, m := range r.active {
		out = append(out, m.Name())
	}
	return out
}

// CompareVersions compares two dotted numeric versions (a "v" prefix is
// tolerated). Returns -1, 0 or 1. Missing components count as zero, so
// "1.2" == "1.2.0". Non-numeric components compare as zero.
func CompareVersions(a, b string) int {
	pa := splitVersion(a)
	pb := splitVersion(b)
	n := len(pa)
	if len(pb) > n {
		n = len(pb)
	}
	for i := 0; i < n; i++ {
		var x, y int
		if i < len(pa) {
			x = pa[i]
		}
		if i < len(pb) {
			y = pb[i]
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func splitVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, _ := strconv.Atoi(p)
		out = append(out, n)
	}
	return out
}
