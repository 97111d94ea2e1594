package models

// Folder is a directory of the hierarchy. A folder owns its children; adding
// an element to a folder detaches it from its previous parent.
//
// The model does not enforce unique child names. Storage backends keep names
// unique by construction.
type Folder struct {
	node
	children []Element
}

// NewFolder returns a detached folder. An empty name denotes a synthetic root.
func NewFolder(name string, children ...Element) *Folder {
	f := &Folder{node: node{name: name}}
	f.Add(children...)
	return f
}

// Children returns the direct children in insertion order. The slice must
// not be modified.
func (f *Folder) Children() []Element { return f.children }

// Len returns the number of direct children.
func (f *Folder) Len() int { return len(f.children) }

// Add appends children, reparenting each one.
func (f *Folder) Add(children ...Element) {
	for _, c := range children {
		if c == nil {
			continue
		}
		if old := c.Parent(); old != nil {
			old.Remove(c)
		}
		c.setParent(f)
		f.children = append(f.children, c)
	}
}

// Remove detaches child from f. It reports whether child was found.
func (f *Folder) Remove(child Element) bool {
	for i, c := range f.children {
		if c == child {
			f.children = append(f.children[:i:i], f.children[i+1:]...)
			child.setParent(nil)
			return true
		}
	}
	return false
}

// replace swaps old for repl in place, keeping the position of old.
func (f *Folder) replace(old, repl Element) bool {
	for i, c := range f.children {
		if c == old {
			if p := repl.Parent(); p != nil && p != f {
				p.Remove(repl)
			}
			f.children[i] = repl
			repl.setParent(f)
			old.setParent(nil)
			return true
		}
	}
	return false
}

// Child returns the first direct child called name, or nil.
func (f *Folder) Child(name string) Element {
	for _, c := range f.children {
		if c.Name() == name {
			return c
		}
	}
	return nil
}

// ChildFolder returns the direct sub-folder called name, or nil.
func (f *Folder) ChildFolder(name string) *Folder {
	for _, c := range f.children {
		if sub, ok := c.(*Folder); ok && sub.name == name {
			return sub
		}
	}
	return nil
}

// ChildGroup returns the direct files group called name, or nil.
func (f *Folder) ChildGroup(name string) *FilesGroup {
	for _, c := range f.children {
		if g, ok := c.(*FilesGroup); ok && g.name == name {
			return g
		}
	}
	return nil
}

// Folders returns the direct sub-folders.
func (f *Folder) Folders() []*Folder {
	var out []*Folder
	for _, c := range f.children {
		if sub, ok := c.(*Folder); ok {
			out = append(out, sub)
		}
	}
	return out
}

// Groups returns the direct files groups.
func (f *Folder) Groups() []*FilesGroup {
	var out []*FilesGroup
	for _, c := range f.children {
		if g, ok := c.(*FilesGroup); ok {
			out = append(out, g)
		}
	}
	return out
}

// Unwrap flattens every descendant (groups and folders) depth-first,
// pre-order. f itself is not included.
func (f *Folder) Unwrap() []Element {
	var out []Element
	var walk func(*Folder)
	walk = func(dir *Folder) {
		for _, c := range dir.children {
			out = append(out, c)
			if sub, ok := c.(*Folder); ok {
				walk(sub)
			}
		}
	}
	walk(f)
	return out
}

// Leaves returns every files group below f, depth-first.
func (f *Folder) Leaves() []*FilesGroup {
	var out []*FilesGroup
	for _, e := range f.Unwrap() {
		if g, ok := e.(*FilesGroup); ok {
			out = append(out, g)
		}
	}
	return out
}

// Clone returns a detached deep copy of f. Files groups keep their providers.
func (f *Folder) Clone() *Folder {
	out := NewFolder(f.name)
	for _, c := range f.children {
		switch c := c.(type) {
		case *Folder:
			out.Add(c.Clone())
		case *FilesGroup:
			out.Add(c.Clone())
		case *FakeFilesGroup:
			out.Add(NewFakeFilesGroup(c.name))
		}
	}
	return out
}
