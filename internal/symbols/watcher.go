package symbols

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"marketsync/internal/logger"

	"github.com/fsnotify/fsnotify"
)

// Snapshot 是某一次加载结果的只读副本。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Symbols  []string
}

type ChangeListener func(Snapshot)

// Watcher 持有一个标的列表文件，文件被写入或替换时自动重新加载。
// 解析失败时保留上一版列表。
type Watcher struct {
	path string
	fsw  *fsnotify.Watcher

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener

	done      chan struct{}
	closeOnce sync.Once
}

// NewWatcher 读取文件并开始监听其所在目录（编辑器常用 rename 方式保存）。
func NewWatcher(path string) (*Watcher, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("symbol watcher requires path")
	}
	w := &Watcher{path: filepath.Clean(path), done: make(chan struct{})}
	if err := w.reload(); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fs watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.fsw = fsw
	go w.loop()
	return w, nil
}

// Symbols returns a copy of the current list.
func (w *Watcher) Symbols() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.snapshot.Symbols...)
}

func (w *Watcher) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return cloneSnapshot(w.snapshot)
}

// Subscribe 注册监听器，之后每次成功重载都会回调。
func (w *Watcher) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	w.mu.Lock()
	w.listeners = append(w.listeners, fn)
	w.mu.Unlock()
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		if w.fsw != nil {
			err = w.fsw.Close()
		}
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(evt.Name) != w.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) {
				continue
			}
			if err := w.reload(); err != nil {
				logger.Errorf("[symbols] reload %s failed, keeping previous list: %v", evt.Name, err)
				continue
			}
			w.notify()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("[symbols] watcher error: %v", err)
		}
	}
}

func (w *Watcher) reload() error {
	list, err := Load(w.path)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.snapshot = Snapshot{
		Version:  w.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Symbols:  list,
	}
	w.mu.Unlock()
	logger.Infof("[symbols] loaded %d symbols from %s", len(list), filepath.Base(w.path))
	return nil
}

func (w *Watcher) notify() {
	w.mu.RLock()
	snap := cloneSnapshot(w.snapshot)
	listeners := append([]ChangeListener(nil), w.listeners...)
	w.mu.RUnlock()
	for _, fn := range listeners {
		func(cb ChangeListener) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("[symbols] listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}

func cloneSnapshot(src Snapshot) Snapshot {
	src.Symbols = append([]string(nil), src.Symbols...)
	return src
}
