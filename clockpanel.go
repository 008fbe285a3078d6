package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	c "lautenbacher.net/clockpanel/config"
	"lautenbacher.net/clockpanel/logging"
	s "lautenbacher.net/clockpanel/settings"
	"lautenbacher.net/clockpanel/storage"
	"lautenbacher.net/clockpanel/tui"
	"lautenbacher.net/clockpanel/web"
)

const SHUTDOWN_TIMEOUT = 5 * time.Second

type App struct {
	ossignal   chan os.Signal
	cfile      string
	conf       *c.Config
	store      *s.Store
	listener   net.Listener
	server     *http.Server
	watcher    *fsnotify.Watcher
	inspector  *tui.Inspector
	stopsignal chan struct{}
	ready      chan struct{}
	shutdownWg sync.WaitGroup
}

func NewApp(ossignal chan os.Signal) *App {
	return &App{
		ossignal:   ossignal,
		stopsignal: make(chan struct{}),
		ready:      make(chan struct{}),
	}
}

func main() {
	cfile := flag.String("config", c.CONFILE, "Config file to use")
	tuip := flag.Bool("tui", false, "Show the settings inspector in the terminal")
	provision := flag.Bool("provision", false, "Write the configured defaults to storage and exit")
	flag.Parse()

	ossignal := make(chan os.Signal, 1)
	signal.Notify(ossignal, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		app := NewApp(ossignal)
		if err := app.initialise(*cfile, *tuip); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to start: %v\n", err)
			logging.Close()
			os.Exit(2)
		}

		if *provision {
			err := app.provision()
			app.shutdown()
			logging.Close()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Provisioning failed: %v\n", err)
				os.Exit(1)
			}
			return
		}

		restart := app.run()
		app.shutdown()
		if !restart {
			break
		}
		slog.Info("Restarting with reloaded config...")
	}
	slog.Info("Exiting...")
	logging.Close()
}

// initialise reads the config, sets up logging and storage and restores
// the persisted settings. Nothing is started yet.
func (a *App) initialise(cfile string, tuip bool) error {
	conf, err := c.ReadConfig(cfile)
	if err != nil {
		return err
	}
	if err := logging.Init(conf.Logging, tuip); err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	a.cfile = cfile
	a.conf = conf

	device, err := storage.NewDevice(conf.Storage)
	if err != nil {
		return err
	}
	opts := []s.Option{s.WithJournal(s.NewJournal(conf.Storage.JournalSize))}
	if conf.Storage.KeepOpen {
		opts = append(opts, s.WithPersistentRegion())
	}
	a.store, err = s.NewStore(device, opts...)
	if err != nil {
		return err
	}

	state, err := a.store.Snapshot()
	if err != nil {
		// The animation engine falls back to its own defaults.
		slog.Error("Failed to restore settings", "error", err)
	} else {
		slog.Info("Settings restored",
			"animation", state.MainAnimationID,
			"separator", state.SeparatorAnimationID,
			"color", state.Color.String(),
			"mirror", state.Mirror)
	}

	if tuip {
		a.inspector = tui.NewInspector(a.store, a.ossignal)
	}
	a.server = &http.Server{
		Handler:           web.NewHandler(a.store, conf),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return nil
}

func (a *App) provision() error {
	d := a.conf.Defaults
	defaults := s.Settings{
		MainAnimationID:      uint8(d.Animation),
		SeparatorAnimationID: uint8(d.Separator),
		Color:                s.RgbColor{R: uint8(d.Color[0]), G: uint8(d.Color[1]), B: uint8(d.Color[2])},
		Mirror:               d.Mirror,
	}
	if err := a.store.Provision(defaults); err != nil {
		return err
	}
	slog.Info("Storage provisioned with defaults", "color", defaults.Color.String())
	return nil
}

// run starts all workers and blocks until a signal arrives. It returns
// true when the app should be restarted.
func (a *App) run() bool {
	var err error
	a.listener, err = net.Listen("tcp", a.conf.Web.Listen)
	if err != nil {
		slog.Error("Failed to listen", "addr", a.conf.Web.Listen, "error", err)
		return false
	}
	slog.Info("Web API listening", "addr", a.listener.Addr().String())

	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		if err := a.server.Serve(a.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web server failed", "error", err)
		}
	}()

	if err := a.watchConfig(); err != nil {
		slog.Warn("Config file changes will not be picked up", "error", err)
	}

	if a.inspector != nil {
		a.shutdownWg.Add(1)
		go a.inspector.Start(a.stopsignal, &a.shutdownWg)
	}
	close(a.ready)

	sig := <-a.ossignal
	slog.Info("Received signal", "signal", sig.String())
	return sig == syscall.SIGHUP
}

// watchConfig turns changes of the config file into a SIGHUP. The
// directory is watched because editors replace files on save.
func (a *App) watchConfig() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(a.cfile)); err != nil {
		watcher.Close()
		return err
	}
	a.watcher = watcher
	target := filepath.Clean(a.cfile)

	a.shutdownWg.Add(1)
	go func() {
		defer a.shutdownWg.Done()
		for {
			select {
			case <-a.stopsignal:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != target {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
					slog.Info("Config file changed, reloading", "file", event.Name)
					select {
					case a.ossignal <- syscall.SIGHUP:
					default:
					}
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (a *App) shutdown() {
	close(a.stopsignal)

	if a.listener != nil {
		ctx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
		if err := a.server.Shutdown(ctx); err != nil {
			slog.Error("Web server shutdown failed", "error", err)
		}
		cancel()
	}
	if a.watcher != nil {
		if err := a.watcher.Close(); err != nil {
			slog.Error("Failed to close config watcher", "error", err)
		}
	}

	a.shutdownWg.Wait()

	if err := a.store.Close(); err != nil {
		slog.Error("Failed to close settings storage", "error", err)
	}
}

// Local Variables:
// compile-command: "go build"
// End:
