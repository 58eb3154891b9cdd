package config

import (
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/gobuffalo/envy"
	"github.com/joho/godotenv"
)

// MaxFramesInFlight bounds Renderer.FramesInFlight.
const MaxFramesInFlight = 4

// Configuration is the full application configuration
type Configuration struct {
	App      App
	Window   Window
	Renderer Renderer
}

// App configures the top-level loop and logging
type App struct {
	Name string

	// LogLevel is a logrus level name
	LogLevel string
	// LogFormat is either "text" or "json"
	LogFormat string

	// MaxFrameFailures is the number of consecutive failed frames after
	// which the application gives up. 0 never gives up.
	MaxFrameFailures int

	// StatsInterval logs frame statistics every N presented frames,
	// 0 disables it
	StatsInterval int
}

// Window configures the native window
type Window struct {
	Title     string
	Width     int
	Height    int
	Resizable bool
}

// Validation selects the validation layers the instance and device are
// created with
type Validation struct {
	Enabled bool
	Layers  []string
}

// Renderer is used to configure the renderer
type Renderer struct {
	// FramesInFlight is the number of frames the host may record ahead of
	// the GPU. Every per-frame resource is allocated this many times.
	FramesInFlight int

	Validation Validation

	// ShaderRoot is the directory shader paths are relative to
	ShaderRoot     string
	VertexShader   string
	FragmentShader string

	ClearColor mgl32.Vec4

	// FenceTimeout and AcquireTimeout bound the host-side waits of a frame.
	// Zero waits without limit.
	FenceTimeout   time.Duration
	AcquireTimeout time.Duration
}

// Default returns the built-in configuration
func Default() Configuration {
	return Configuration{
		App: App{
			Name:             "Cardinal",
			LogLevel:         "info",
			LogFormat:        "text",
			MaxFrameFailures: 10,
			StatsInterval:    600,
		},
		Window: Window{
			Title:     "CARDINAL",
			Width:     1280,
			Height:    720,
			Resizable: true,
		},
		Renderer: Renderer{
			FramesInFlight: 1,
			Validation: Validation{
				Enabled: false,
				Layers:  []string{"VK_LAYER_KHRONOS_validation"},
			},
			ShaderRoot:     ".",
			VertexShader:   "shaders/vertex_shader.spv",
			FragmentShader: "shaders/fragment_shader.spv",
			ClearColor:     mgl32.Vec4{0, 0, 0, 1},
		},
	}
}

// Load reads the configuration from the environment on top of Default.
// The given dotenv files are loaded first; variables already present in
// the environment win over the files.
func Load(envFiles ...string) (Configuration, error) {
	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Configuration{}, errors.Wrap(err, "loading env files")
		}
	}
	envy.Reload()

	cfg := Default()
	var err error

	cfg.App.Name = envy.Get("CARDINAL_APP_NAME", cfg.App.Name)
	cfg.App.LogLevel = envy.Get("CARDINAL_LOG_LEVEL", cfg.App.LogLevel)
	cfg.App.LogFormat = envy.Get("CARDINAL_LOG_FORMAT", cfg.App.LogFormat)
	if cfg.App.MaxFrameFailures, err = getInt("CARDINAL_MAX_FRAME_FAILURES", cfg.App.MaxFrameFailures); err != nil {
		return Configuration{}, err
	}
	if cfg.App.StatsInterval, err = getInt("CARDINAL_STATS_INTERVAL", cfg.App.StatsInterval); err != nil {
		return Configuration{}, err
	}

	cfg.Window.Title = envy.Get("CARDINAL_WINDOW_TITLE", cfg.Window.Title)
	if cfg.Window.Width, err = getInt("CARDINAL_WINDOW_WIDTH", cfg.Window.Width); err != nil {
		return Configuration{}, err
	}
	if cfg.Window.Height, err = getInt("CARDINAL_WINDOW_HEIGHT", cfg.Window.Height); err != nil {
		return Configuration{}, err
	}
	if cfg.Window.Resizable, err = getBool("CARDINAL_WINDOW_RESIZABLE", cfg.Window.Resizable); err != nil {
		return Configuration{}, err
	}

	if cfg.Renderer.FramesInFlight, err = getInt("CARDINAL_FRAMES_IN_FLIGHT", cfg.Renderer.FramesInFlight); err != nil {
		return Configuration{}, err
	}
	if cfg.Renderer.Validation.Enabled, err = getBool("CARDINAL_VALIDATION", cfg.Renderer.Validation.Enabled); err != nil {
		return Configuration{}, err
	}
	if layers := envy.Get("CARDINAL_VALIDATION_LAYERS", ""); layers != "" {
		cfg.Renderer.Validation.Layers = splitList(layers)
	}
	cfg.Renderer.ShaderRoot = envy.Get("CARDINAL_SHADER_ROOT", cfg.Renderer.ShaderRoot)
	cfg.Renderer.VertexShader = envy.Get("CARDINAL_VERTEX_SHADER", cfg.Renderer.VertexShader)
	cfg.Renderer.FragmentShader = envy.Get("CARDINAL_FRAGMENT_SHADER", cfg.Renderer.FragmentShader)
	if color := envy.Get("CARDINAL_CLEAR_COLOR", ""); color != "" {
		if cfg.Renderer.ClearColor, err = parseColor(color); err != nil {
			return Configuration{}, err
		}
	}
	if cfg.Renderer.FenceTimeout, err = getDuration("CARDINAL_FENCE_TIMEOUT", cfg.Renderer.FenceTimeout); err != nil {
		return Configuration{}, err
	}
	if cfg.Renderer.AcquireTimeout, err = getDuration("CARDINAL_ACQUIRE_TIMEOUT", cfg.Renderer.AcquireTimeout); err != nil {
		return Configuration{}, err
	}

	return cfg, cfg.Validate()
}

// Validate reports the first invalid setting
func (c Configuration) Validate() error {
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return errors.Newf("window size %dx%d must be positive", c.Window.Width, c.Window.Height)
	}
	if c.App.MaxFrameFailures < 0 {
		return errors.Newf("max frame failures %d must not be negative", c.App.MaxFrameFailures)
	}
	if c.App.LogFormat != "text" && c.App.LogFormat != "json" {
		return errors.Newf("unknown log format %q", c.App.LogFormat)
	}
	return c.Renderer.Validate()
}

// Validate reports the first invalid renderer setting
func (r Renderer) Validate() error {
	if r.FramesInFlight < 1 || r.FramesInFlight > MaxFramesInFlight {
		return errors.Newf("frames in flight %d out of range [1, %d]", r.FramesInFlight, MaxFramesInFlight)
	}
	if r.Validation.Enabled && len(r.Validation.Layers) == 0 {
		return errors.New("validation enabled without any layers")
	}
	for _, path := range []string{r.VertexShader, r.FragmentShader} {
		if !fs.ValidPath(path) {
			return errors.Newf("shader path %q must be slash-separated and relative to the shader root", path)
		}
	}
	if r.FenceTimeout < 0 || r.AcquireTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// EnabledLayers returns the layers to enable, none when validation is off
func (v Validation) EnabledLayers() []string {
	if !v.Enabled {
		return nil
	}
	return v.Layers
}

func getInt(key string, fallback int) (int, error) {
	raw := envy.Get(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", key)
	}
	return value, nil
}

func getBool(key string, fallback bool) (bool, error) {
	raw := envy.Get(key, "")
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, errors.Wrapf(err, "parsing %s", key)
	}
	return value, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := envy.Get(key, "")
	switch raw {
	case "":
		return fallback, nil
	case "none", "0":
		return 0, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, errors.Wrapf(err, "parsing %s", key)
	}
	return value, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseColor(raw string) (mgl32.Vec4, error) {
	parts := splitList(raw)
	if len(parts) != 4 {
		return mgl32.Vec4{}, errors.Newf("clear color %q needs 4 components", raw)
	}

	var color mgl32.Vec4
	for i, part := range parts {
		value, err := strconv.ParseFloat(part, 32)
		if err != nil {
			return mgl32.Vec4{}, errors.Wrapf(err, "clear color component %d", i)
		}
		if value < 0 || value > 1 {
			return mgl32.Vec4{}, errors.Newf("clear color component %d = %v outside [0, 1]", i, value)
		}
		color[i] = float32(value)
	}
	return color, nil
}
