package main

import (
	"flag"
	"os"
	"runtime"
	"strings"

	"github.com/cardinalgfx/cardinal/config"
	"github.com/cardinalgfx/cardinal/renderer"
	"github.com/cardinalgfx/cardinal/shader"
	"github.com/cardinalgfx/cardinal/vkng"
	"github.com/cardinalgfx/cardinal/window"
	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"
)

// ErrTooManyFailures is returned by the main loop when frames keep failing
var ErrTooManyFailures = errors.New("too many consecutive frame failures")

type Application struct {
	cfg config.Configuration
	log log.FieldLogger

	window   *window.Window
	instance *vkng.Instance
	renderer *renderer.Renderer
}

func (app *Application) Run() error {
	err := app.initWindow()
	if err != nil {
		return err
	}
	defer app.cleanup()

	err = app.initVulkan()
	if err != nil {
		return err
	}

	return app.mainLoop()
}

func (app *Application) initWindow() error {
	w, err := window.New(app.cfg.Window)
	if err != nil {
		return err
	}
	app.window = w
	return nil
}

func (app *Application) initVulkan() error {
	instance, err := vkng.NewInstance(vkng.Options{
		ApplicationName: app.cfg.App.Name,
		Validation:      app.cfg.Renderer.Validation,
		Window:          app.window.SDL(),
		Log:             app.log,
	})
	if err != nil {
		return err
	}
	app.instance = instance

	app.renderer = renderer.New(instance, app.window, shader.NewLoader(app.cfg.Renderer.ShaderRoot), app.cfg.Renderer, app.log)
	return app.renderer.Init()
}

func (app *Application) mainLoop() error {
	rendering := true
	frames := frameTracker{maxFailures: app.cfg.App.MaxFrameFailures, statsInterval: app.cfg.App.StatsInterval}

	for {
		for _, event := range app.window.Poll() {
			switch event.Kind {
			case window.Quit:
				return nil
			case window.Minimized:
				rendering = false
			case window.Restored:
				rendering = true
				app.renderer.MarkStale()
			case window.Resized:
				rendering = true
				app.renderer.MarkStale()
			}
		}

		if !rendering {
			app.window.Idle()
			continue
		}

		idle, err := app.step(app.renderer, &frames)
		if err != nil {
			return err
		}
		if idle {
			app.window.Idle()
		}
	}
}

// frameRenderer is what the main loop drives
type frameRenderer interface {
	State() renderer.SwapchainState
	Rebuild() error
	DrawFrame() error
	Stats() renderer.Stats
}

// step rebuilds the swapchain when needed and draws one frame. idle is set
// when the surface has no area to draw into. Only draw attempts count
// towards the failure limit; a rebuild alone is not a presented frame.
func (app *Application) step(r frameRenderer, frames *frameTracker) (idle bool, err error) {
	if r.State() != renderer.SwapchainReady {
		if err := r.Rebuild(); err != nil {
			return false, err
		}
		if r.State() != renderer.SwapchainReady {
			return true, nil
		}
	}

	err = r.DrawFrame()
	switch {
	case err == nil:
	case errors.Is(err, renderer.ErrFatal):
		return false, err
	case errors.Is(err, renderer.ErrOutOfDate):
		app.log.WithError(err).Debug("swapchain out of date")
	default:
		app.log.WithError(err).Error("frame failed")
	}

	if frames.record(err) {
		app.log.WithError(err).WithField("critical", true).Error("giving up on rendering")
		return false, errors.Wrapf(ErrTooManyFailures, "after %d frames", frames.failures)
	}

	if err == nil && frames.statsDue() {
		stats := r.Stats()
		app.log.WithFields(log.Fields{
			"presented":  stats.Presented,
			"aborted":    stats.Aborted,
			"last_frame": stats.LastFrame,
		}).Info("frame statistics")
	}
	return false, nil
}

func (app *Application) cleanup() {
	if app.renderer != nil {
		if err := app.renderer.WaitIdle(); err != nil {
			app.log.WithError(err).Warn("waiting for device before shutdown")
		}
		app.renderer.Destroy()
	}

	if app.instance != nil {
		app.instance.Destroy()
	}

	app.window.Destroy()
}

// frameTracker counts consecutive frame failures and successful frames
type frameTracker struct {
	maxFailures   int
	statsInterval int

	failures  int
	succeeded int
}

// record reports whether the loop should give up
func (f *frameTracker) record(err error) bool {
	if err == nil {
		f.failures = 0
		f.succeeded++
		return false
	}
	f.failures++
	return f.maxFailures > 0 && f.failures >= f.maxFailures
}

func (f *frameTracker) statsDue() bool {
	return f.statsInterval > 0 && f.succeeded > 0 && f.succeeded%f.statsInterval == 0
}

func configureLogger(logger *log.Logger, level, format string) error {
	parsed, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "log level %q", level)
	}
	logger.SetLevel(parsed)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&log.JSONFormatter{})
	} else {
		logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}

func main() {
	runtime.LockOSThread()

	envFile := flag.String("env", "", "dotenv file to load before reading the environment")
	logLevel := flag.String("log-level", "", "override the configured log level")
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("%+v\n", err)
	}
	if *logLevel != "" {
		cfg.App.LogLevel = *logLevel
	}

	logger := log.StandardLogger()
	if err := configureLogger(logger, cfg.App.LogLevel, cfg.App.LogFormat); err != nil {
		log.Fatalf("%+v\n", err)
	}

	app := &Application{cfg: cfg, log: logger}
	if err := app.Run(); err != nil {
		logger.WithField("critical", true).Errorf("%+v", err)
		os.Exit(1)
	}
}
