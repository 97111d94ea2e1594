package tree

import (
	"slices"
	"testing"

	"github.com/dgzargo/BookmarkStorage/pkg/models"
)

func TestExcept(t *testing.T) {
	a := dir("",
		bm("same", t0),
		bm("changed", t1),
		bm("added", t0),
		dir("shared", bm("x", t0), bm("y", t1)),
		dir("only-a", bm("z", t0), dir("deep", bm("w", t0))),
	)
	b := dir("",
		bm("same", t0),
		bm("changed", t0),
		bm("removed", t0),
		dir("shared", bm("x", t0), bm("y", t0)),
		dir("only-b", bm("q", t0)),
	)

	got := Except(a, b)
	want := []string{"changed", "added", "shared/y", "only-a/z", "only-a/deep/w"}
	if paths := Paths(got); !slices.Equal(paths, want) {
		t.Errorf("Except paths = %v, want %v", paths, want)
	}
	if got.ChildFolder("only-b") != nil {
		t.Error("folders only in the subtrahend must not appear")
	}
	if got.Parent() != nil || got.Name() != "" {
		t.Error("result must be a detached folder named like the minuend")
	}
	if !got.ChildGroup("changed").LastModified().Equal(t1) {
		t.Error("result must carry the minuend's version")
	}

	// Inputs are untouched.
	if a.Len() != 5 || b.Len() != 5 || a.ChildGroup("added").Parent() != a {
		t.Error("Except modified its inputs")
	}
}

func TestExceptKeepsSharedEmptyFolder(t *testing.T) {
	a := dir("", dir("shared", bm("x", t0)))
	b := dir("", dir("shared", bm("x", t0)))

	got := Except(a, b)
	shared := got.ChildFolder("shared")
	if shared == nil {
		t.Fatal("shared folder should be present")
	}
	if shared.Len() != 0 {
		t.Errorf("shared folder should be empty, has %d", shared.Len())
	}
}

func TestExceptEmpty(t *testing.T) {
	a := dir("r", bm("x", t0), dir("a", bm("y", t0), dir("b")))
	empty := dir("r")

	got := Except(a, empty)
	if !slices.Equal(Paths(got), Paths(a)) || Count(got) != Count(a) {
		t.Errorf("Except(A, empty) = %v, want %v", Paths(got), Paths(a))
	}
	if got == a {
		t.Error("Except(A, empty) must be a new node")
	}

	if got := Except(empty, a); got.Name() != "r" || got.Len() != 0 {
		t.Errorf("Except(empty, B) should be an empty folder named r, got %d children", got.Len())
	}
}

func TestExceptProperty(t *testing.T) {
	// Every result element has no equal counterpart in b and every element of
	// a without one is in the result.
	a := dir("",
		bm("p", t0), bm("q", t1), bm("r", t0),
		dir("d", bm("s", t0)),
	)
	b := dir("",
		bm("p", t0), bm("q", t0),
		dir("d"),
	)
	got := Except(a, b)

	for _, g := range got.Groups() {
		if other := b.ChildGroup(g.Name()); other != nil && other.SameVersion(g) {
			t.Errorf("%s present in subtrahend", g.Name())
		}
	}
	for _, g := range a.Groups() {
		other := b.ChildGroup(g.Name())
		inResult := got.ChildGroup(g.Name()) != nil
		if (other == nil || !other.SameVersion(g)) != inResult {
			t.Errorf("%s: in result = %v", g.Name(), inResult)
		}
	}
	if d := got.ChildFolder("d"); d == nil || d.ChildGroup("s") == nil {
		t.Error("shared folder diff should keep d/s")
	}
}

func TestExceptMismatchedNamesPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Except(dir("a"), dir("b"))
}

func TestExceptFakePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	Except(dir("", models.NewFakeFilesGroup("f")), dir(""))
}

func TestObsoleteAndNew(t *testing.T) {
	source := dir("", dir("a", bm("x", t1)))
	target := dir("", dir("a", bm("x", t0)))

	obsolete := Obsolete(target, source).ChildFolder("a").ChildGroup("x")
	created := New(source, target).ChildFolder("a").ChildGroup("x")
	if obsolete == nil || !obsolete.LastModified().Equal(t0) {
		t.Errorf("obsolete = %v", obsolete)
	}
	if created == nil || !created.LastModified().Equal(t1) {
		t.Errorf("new = %v", created)
	}
}
