// Package server runs the development loop: an HTTP file server over the
// build output, a metrics endpoint, and a filesystem watcher that feeds
// debounced rebuild tasks into the worker pool whenever the source tree
// changes.
package server

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openviewer/build-plane/internal/config"
	"github.com/openviewer/build-plane/internal/logging"
	"github.com/openviewer/build-plane/internal/metrics"
	"github.com/openviewer/build-plane/internal/pool"
	"github.com/openviewer/build-plane/internal/target"
)

// rebuildDelay is how long the watcher waits after the last event before a
// rebuild runs. Repeated events within the window push the deadline out.
const rebuildDelay = 250 * time.Millisecond

// idleDeadline requeues a finished rebuild task far enough out that it only
// runs again when triggered.
const idleDeadline = 24 * time.Hour

type Server struct {
	cfg     *config.Root
	log     *logging.Logger
	targets []string
	router  *http.ServeMux
	pool    *pool.Pool

	// outputRoot is the absolute output root, resolved once at Run time
	outputRoot string

	// rebuild is the action a triggered task runs; swapped out in tests
	rebuild func(ctx context.Context, name string) error
}

func New(cfg *config.Root, builder *target.Builder, log *logging.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log,
		targets: target.Names(),
		router:  http.NewServeMux(),
		pool:    pool.New(2),
		rebuild: builder.Build,
	}
}

// WithTargets restricts the dev loop to the named targets.
func (s *Server) WithTargets(names []string) *Server {
	if len(names) > 0 {
		s.targets = names
	}
	return s
}

func (s *Server) WithRouter(router *http.ServeMux) *Server {
	s.router = router
	return s
}

// Init wires the HTTP routes: the build output at the root, Prometheus
// metrics under /metrics.
func (s *Server) Init() *Server {
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Handle("/", http.FileServer(http.Dir(s.cfg.OutputRoot)))
	return s
}

// Run builds the configured targets, starts watching the source tree and
// serves the output until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.Init()

	outputRoot, err := filepath.Abs(s.cfg.OutputRoot)
	if err != nil {
		return err
	}
	s.outputRoot = outputRoot

	for _, name := range s.targets {
		s.pool.Add(s.taskName(name), s.rebuildTask(name))
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := s.watchTree(watcher, s.cfg.SourceRoot); err != nil {
		return err
	}
	go s.dispatch(ctx, watcher)

	addr := net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
	srv := &http.Server{Addr: addr, Handler: s.router}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.log.Infof("serving %s on http://%s", s.cfg.OutputRoot, addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) taskName(name string) string {
	return "target/" + name
}

// rebuildTask wraps one target build as a pool task. The task idles until
// triggered; build failures are logged and do not stop the dev loop.
func (s *Server) rebuildTask(name string) func(context.Context) time.Time {
	return func(ctx context.Context) time.Time {
		if err := s.rebuild(ctx, name); err != nil {
			s.log.Errorf("rebuild %s: %v", name, err)
		}
		return time.Now().Add(idleDeadline)
	}
}

// watchTree registers root and every directory below it with the watcher.
// The output root is skipped so our own writes never feed back into the
// loop.
func (s *Server) watchTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if s.underOutputRoot(p) {
			return filepath.SkipDir
		}
		return watcher.Add(p)
	})
}

// underOutputRoot reports whether p is the output root or below it. Events
// there are the build's own writes and must never feed back into the loop.
func (s *Server) underOutputRoot(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return false
	}
	return abs == s.outputRoot || strings.HasPrefix(abs, s.outputRoot+string(filepath.Separator))
}

// dispatch turns watcher events into debounced rebuild triggers.
func (s *Server) dispatch(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if s.underOutputRoot(event.Name) {
				continue
			}
			if event.Op.Has(fsnotify.Create) {
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					_ = watcher.Add(event.Name)
				}
			}
			s.log.Debugf("source change: %s", event.Name)
			metrics.RebuildsTriggered.Inc()
			for _, name := range s.targets {
				if err := s.pool.Trigger(s.taskName(name), rebuildDelay); err != nil {
					s.log.Warnf("trigger %s: %v", name, err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warnf("watcher: %v", err)
		}
	}
}
