package weave

import (
	"fmt"
	"sync"

	"github.com/chazu/weft/pkg/classfile"
)

// ByteResolver locates raw class bytes by internal name. It is the only
// collaborator the metadata model needs; the engine never loads classes.
type ByteResolver func(name string) ([]byte, error)

// MemberInfo describes one field or method of a class.
type MemberInfo struct {
	Name    string
	Desc    string
	Flags   uint16
	IsField bool
}

// IsStatic reports whether the member is static.
func (m *MemberInfo) IsStatic() bool { return m.Flags&classfile.AccStatic != 0 }

// IsFinal reports whether the member is final.
func (m *MemberInfo) IsFinal() bool { return m.Flags&classfile.AccFinal != 0 }

// ClassInfo is the cached descriptor of one class: hierarchy links and owned
// members, without any code. Immutable after construction.
type ClassInfo struct {
	Name       string
	SuperName  string // "" only for java/lang/Object
	Interfaces []string
	Flags      uint16
	Members    []MemberInfo
}

// IsInterface reports whether the class is an interface.
func (c *ClassInfo) IsInterface() bool { return c.Flags&classfile.AccInterface != 0 }

// Member returns the owned member with the given name and descriptor, or nil.
// An empty desc matches any descriptor (used for field lookups).
func (c *ClassInfo) Member(name, desc string) *MemberInfo {
	for i := range c.Members {
		m := &c.Members[i]
		if m.Name == name && (desc == "" || m.Desc == desc) {
			return m
		}
	}
	return nil
}

// Metadata is the lazy, cached class descriptor graph. Safe for concurrent
// readers; a descriptor is computed at most usefully once, though two threads
// racing on the same name may both parse it (last write wins, both results
// are identical).
type Metadata struct {
	mu      sync.RWMutex
	classes map[string]*ClassInfo
	resolve ByteResolver
}

// NewMetadata returns a metadata model backed by the given resolver. The
// model is pre-seeded with java/lang/Object so hierarchy walks terminate
// without consulting a JDK image.
func NewMetadata(resolve ByteResolver) *Metadata {
	m := &Metadata{
		classes: make(map[string]*ClassInfo),
		resolve: resolve,
	}
	m.classes["java/lang/Object"] = &ClassInfo{
		Name:  "java/lang/Object",
		Flags: classfile.AccPublic,
	}
	return m
}

// Define inserts a descriptor directly, bypassing the resolver. Used for
// classes the engine synthesizes or has already parsed.
func (m *Metadata) Define(info *ClassInfo) {
	m.mu.Lock()
	m.classes[info.Name] = info
	m.mu.Unlock()
}

// DefineFromClass builds and inserts a descriptor for a parsed class file.
func (m *Metadata) DefineFromClass(cf *classfile.ClassFile) *ClassInfo {
	info := &ClassInfo{
		Name:       cf.ThisClass,
		SuperName:  cf.SuperClass,
		Interfaces: append([]string(nil), cf.Interfaces...),
		Flags:      cf.AccessFlags,
	}
	for _, f := range cf.Fields {
		info.Members = append(info.Members, MemberInfo{Name: f.Name, Desc: f.Descriptor, Flags: f.AccessFlags, IsField: true})
	}
	for _, meth := range cf.Methods {
		info.Members = append(info.Members, MemberInfo{Name: meth.Name, Desc: meth.Descriptor, Flags: meth.AccessFlags})
	}
	m.Define(info)
	return info
}

// Reset drops every cached descriptor except the built-in seed. Explicit
// cache invalidation is the only way entries leave the cache.
func (m *Metadata) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	seed := m.classes["java/lang/Object"]
	m.classes = map[string]*ClassInfo{"java/lang/Object": seed}
}

// Resolve returns the descriptor for the named class, parsing it on first
// reference.
func (m *Metadata) Resolve(name string) (*ClassInfo, error) {
	m.mu.RLock()
	info, ok := m.classes[name]
	m.mu.RUnlock()
	if ok {
		return info, nil
	}

	if m.resolve == nil {
		return nil, &ResolutionError{Class: name, Cause: fmt.Errorf("no resolver configured")}
	}
	data, err := m.resolve(name)
	if err != nil {
		return nil, &ResolutionError{Class: name, Cause: err}
	}
	cf, err := classfile.Parse(data)
	if err != nil {
		return nil, &ResolutionError{Class: name, Cause: err}
	}
	return m.DefineFromClass(cf), nil
}

// HasSuperclass reports whether sub has sup somewhere on its superclass
// chain (strictly above it; a class is not its own superclass).
func (m *Metadata) HasSuperclass(sub, sup string) (bool, error) {
	info, err := m.Resolve(sub)
	if err != nil {
		return false, err
	}
	for info.SuperName != "" {
		if info.SuperName == sup {
			return true, nil
		}
		if info, err = m.Resolve(info.SuperName); err != nil {
			return false, err
		}
	}
	return false, nil
}

// IsAssignableFrom reports whether a value of class from can be assigned to
// a variable of class to, walking superclasses and then interfaces.
func (m *Metadata) IsAssignableFrom(to, from string) (bool, error) {
	if to == from || to == "java/lang/Object" {
		return true, nil
	}
	info, err := m.Resolve(from)
	if err != nil {
		return false, err
	}
	if info.SuperName != "" {
		if ok, err := m.IsAssignableFrom(to, info.SuperName); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	for _, iface := range info.Interfaces {
		if iface == to {
			return true, nil
		}
		if ok, err := m.IsAssignableFrom(to, iface); err != nil {
			return false, err
		} else if ok {
			return true, nil
		}
	}
	return false, nil
}

// FindMember resolves a member against the class, its superclass chain, and
// then its interfaces, returning the most-derived declaring class. Interface
// members only participate for method lookups (default and static interface
// methods); fields on interfaces are constants and resolve like any owned
// member.
func (m *Metadata) FindMember(class, name, desc string) (*ClassInfo, *MemberInfo, error) {
	info, err := m.Resolve(class)
	if err != nil {
		return nil, nil, err
	}

	// Superclass chain first.
	for cur := info; ; {
		if mem := cur.Member(name, desc); mem != nil {
			return cur, mem, nil
		}
		if cur.SuperName == "" {
			break
		}
		if cur, err = m.Resolve(cur.SuperName); err != nil {
			return nil, nil, err
		}
	}

	// Then interfaces, breadth-first from the declaring class.
	queue := append([]string(nil), info.Interfaces...)
	seen := make(map[string]bool)
	for len(queue) > 0 {
		ifaceName := queue[0]
		queue = queue[1:]
		if seen[ifaceName] {
			continue
		}
		seen[ifaceName] = true
		iface, err := m.Resolve(ifaceName)
		if err != nil {
			return nil, nil, err
		}
		if mem := iface.Member(name, desc); mem != nil {
			return iface, mem, nil
		}
		queue = append(queue, iface.Interfaces...)
	}

	return nil, nil, &ResolutionError{Class: class, Member: name + desc}
}
