//go:build linux

package watcher

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

const (
	fileMask = unix.IN_CREATE | unix.IN_MODIFY | unix.IN_CLOSE_WRITE | unix.IN_ATTRIB |
		unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO | unix.IN_ONLYDIR
	dirMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
		unix.IN_DELETE_SELF | unix.IN_ONLYDIR
)

var (
	errOverflow    = errors.New("watcher: inotify queue overflow")
	errRootRemoved = errors.New("watcher: watched root was removed")
)

// NewLocal watches the directory tree at root.
func NewLocal(root string, opts LocalOptions, log *zap.Logger) (Watcher, error) {
	w, err := NewInotify(root, opts, log)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// InotifyWatcher watches a directory tree with two inotify descriptors, one
// for file events and one for directory events. Directories created later
// are watched as they appear.
type InotifyWatcher struct {
	base
	root string
	opts LocalOptions
	log  *zap.Logger

	fileFd, dirFd int
	// Only touched by the loop goroutine once Start returns.
	fileWds, dirWds map[int32]string
}

// NewInotify creates an inotify watcher for root.
func NewInotify(root string, opts LocalOptions, log *zap.Logger) (*InotifyWatcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &InotifyWatcher{
		base:    newBase("local"),
		root:    abs,
		opts:    opts.withDefaults(),
		log:     log.Named("watcher"),
		fileFd:  -1,
		dirFd:   -1,
		fileWds: make(map[int32]string),
		dirWds:  make(map[int32]string),
	}, nil
}

// Start registers watches on the whole tree and starts the event loop.
func (w *InotifyWatcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}
	ctx, err = w.begin(ctx)
	if err != nil {
		return err
	}
	if err := w.setup(); err != nil {
		w.closeFds()
		w.fail(err)
		w.cancel()
		close(w.done)
		return err
	}
	w.log.Info("watching directory", zap.String("root", w.root), zap.Int("dirs", len(w.dirWds)))
	go w.loop(ctx)
	return nil
}

func (w *InotifyWatcher) setup() error {
	var err error
	if w.fileFd, err = unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC); err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	if w.dirFd, err = unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC); err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	return w.addTree(w.root)
}

func (w *InotifyWatcher) closeFds() {
	if w.fileFd >= 0 {
		unix.Close(w.fileFd)
	}
	if w.dirFd >= 0 {
		unix.Close(w.dirFd)
	}
}

// addTree watches dir and every directory below it. Directories that vanish
// during the walk are skipped.
func (w *InotifyWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir && path == w.root {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		fwd, err := unix.InotifyAddWatch(w.fileFd, path, fileMask)
		if err != nil {
			if path == w.root {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		dwd, err := unix.InotifyAddWatch(w.dirFd, path, dirMask)
		if err != nil {
			if path == w.root {
				return fmt.Errorf("watch %s: %w", path, err)
			}
			return nil
		}
		w.fileWds[int32(fwd)] = path
		w.dirWds[int32(dwd)] = path
		return nil
	})
}

// removeTree drops the watches of dir and everything below it.
func (w *InotifyWatcher) removeTree(dir string) {
	below := func(p string) bool {
		return p == dir || strings.HasPrefix(p, dir+string(filepath.Separator))
	}
	for wd, p := range w.fileWds {
		if below(p) {
			unix.InotifyRmWatch(w.fileFd, uint32(wd))
			delete(w.fileWds, wd)
		}
	}
	for wd, p := range w.dirWds {
		if below(p) {
			unix.InotifyRmWatch(w.dirFd, uint32(wd))
			delete(w.dirWds, wd)
		}
	}
}

func (w *InotifyWatcher) loop(ctx context.Context) {
	defer close(w.done)
	defer w.closeFds()

	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	deb := NewDebouncer(w.opts.Debounce, w.publish)
	wg.Add(1)
	go func() {
		defer wg.Done()
		deb.Run(ctx)
	}()

	buffer := make([]byte, 64*1024)
	fds := []unix.PollFd{{Fd: int32(w.fileFd)}, {Fd: int32(w.dirFd)}}
	for {
		if ctx.Err() != nil {
			return
		}
		for i := range fds {
			fds[i].Events = unix.POLLIN
			fds[i].Revents = 0
		}
		count, err := unix.Poll(fds, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			w.failLoop(fmt.Errorf("poll inotify: %w", err))
			return
		}
		if count == 0 {
			continue
		}
		for i, pfd := range fds {
			if pfd.Revents&unix.POLLIN == 0 {
				continue
			}
			if err := w.drain(ctx, i == 1, buffer, deb); err != nil {
				w.failLoop(err)
				return
			}
		}
	}
}

func (w *InotifyWatcher) failLoop(err error) {
	w.log.Error("watcher failed", zap.String("root", w.root), zap.Error(err))
	w.fail(err)
}

// drain reads every pending event of one descriptor.
func (w *InotifyWatcher) drain(ctx context.Context, dirEvents bool, buffer []byte, deb *Debouncer) error {
	fd := w.fileFd
	if dirEvents {
		fd = w.dirFd
	}
	for {
		n, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				return nil
			}
			return fmt.Errorf("read inotify: %w", err)
		}
		if n <= 0 {
			return nil
		}
		for _, ev := range parseEvents(buffer[:n]) {
			var dirs []string
			var err error
			if dirEvents {
				dirs, err = w.dirEvent(ev)
			} else {
				dirs, err = w.fileEvent(ev)
			}
			if err != nil {
				return err
			}
			for _, d := range dirs {
				if p, ok := DirPath(w.root, d); ok && !deb.Push(ctx, p) {
					return nil
				}
			}
		}
	}
}

func (w *InotifyWatcher) fileEvent(ev inotifyEvent) ([]string, error) {
	if ev.mask&unix.IN_Q_OVERFLOW != 0 {
		return nil, errOverflow
	}
	dir, ok := w.fileWds[ev.wd]
	if ev.mask&unix.IN_IGNORED != 0 {
		delete(w.fileWds, ev.wd)
		return nil, nil
	}
	if !ok || ev.mask&unix.IN_ISDIR != 0 {
		return nil, nil
	}
	return []string{dir}, nil
}

func (w *InotifyWatcher) dirEvent(ev inotifyEvent) ([]string, error) {
	if ev.mask&unix.IN_Q_OVERFLOW != 0 {
		return nil, errOverflow
	}
	dir, ok := w.dirWds[ev.wd]
	if ev.mask&unix.IN_IGNORED != 0 {
		delete(w.dirWds, ev.wd)
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	if ev.mask&unix.IN_DELETE_SELF != 0 {
		if dir == w.root {
			return nil, errRootRemoved
		}
		return nil, nil
	}
	if ev.mask&unix.IN_ISDIR == 0 || ev.name == "" {
		return nil, nil
	}
	child := filepath.Join(dir, ev.name)
	switch {
	case ev.mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
		if err := w.addTree(child); err != nil {
			w.log.Warn("cannot watch new directory", zap.String("dir", child), zap.Error(err))
		}
		return []string{dir, child}, nil
	case ev.mask&(unix.IN_DELETE|unix.IN_MOVED_FROM) != 0:
		w.removeTree(child)
	}
	return []string{dir}, nil
}

type inotifyEvent struct {
	wd   int32
	mask uint32
	name string
}

// parseEvents decodes a read buffer. Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func parseEvents(buffer []byte) []inotifyEvent {
	var out []inotifyEvent
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		ev := inotifyEvent{
			wd:   int32(binary.NativeEndian.Uint32(buffer[offset : offset+4])),
			mask: binary.NativeEndian.Uint32(buffer[offset+4 : offset+8]),
		}
		if nameLength > 0 {
			ev.name = nullTerminated(buffer[offset+unix.SizeofInotifyEvent : offset+eventSize])
		}
		out = append(out, ev)
		offset += eventSize
	}
	return out
}

func nullTerminated(data []byte) string {
	for i, b := range data {
		if b == 0 {
			return string(data[:i])
		}
	}
	return string(data)
}
