// Package window owns the SDL window the renderer presents to.
package window

import (
	"github.com/cardinalgfx/cardinal/config"
	"github.com/cockroachdb/errors"
	"github.com/veandco/go-sdl2/sdl"
)

type EventKind int

const (
	Quit EventKind = iota
	Resized
	Minimized
	Restored
)

func (k EventKind) String() string {
	switch k {
	case Quit:
		return "quit"
	case Resized:
		return "resized"
	case Minimized:
		return "minimized"
	case Restored:
		return "restored"
	}
	return "unknown"
}

// Event is a window event the application loop reacts to. Width and Height
// are set for Resized.
type Event struct {
	Kind          EventKind
	Width, Height int
}

type Window struct {
	window *sdl.Window
}

// New initializes SDL video and opens a Vulkan capable window
func New(cfg config.Window) (*Window, error) {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, errors.Wrap(err, "initializing SDL")
	}

	flags := uint32(sdl.WINDOW_SHOWN | sdl.WINDOW_VULKAN)
	if cfg.Resizable {
		flags |= sdl.WINDOW_RESIZABLE
	}

	window, err := sdl.CreateWindow(cfg.Title, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED, int32(cfg.Width), int32(cfg.Height), flags)
	if err != nil {
		sdl.Quit()
		return nil, errors.Wrap(err, "creating window")
	}

	return &Window{window: window}, nil
}

// SDL returns the underlying window for surface creation
func (w *Window) SDL() *sdl.Window {
	return w.window
}

// DrawableSize is the size of the window in pixels. It is zero while the
// window is minimized.
func (w *Window) DrawableSize() (int, int) {
	if w.window.GetFlags()&sdl.WINDOW_MINIMIZED != 0 {
		return 0, 0
	}
	width, height := w.window.VulkanGetDrawableSize()
	return int(width), int(height)
}

// Poll drains the SDL event queue
func (w *Window) Poll() []Event {
	var events []Event
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		if e, ok := translate(event); ok {
			events = append(events, e)
		}
	}
	return events
}

// Idle sleeps briefly, for loops that have nothing to draw
func (w *Window) Idle() {
	sdl.Delay(16)
}

func (w *Window) Destroy() {
	if w.window != nil {
		w.window.Destroy()
		w.window = nil
	}
	sdl.Quit()
}

func translate(event sdl.Event) (Event, bool) {
	switch e := event.(type) {
	case *sdl.QuitEvent:
		return Event{Kind: Quit}, true
	case *sdl.KeyboardEvent:
		if e.Type == sdl.KEYDOWN && e.Keysym.Sym == sdl.K_ESCAPE {
			return Event{Kind: Quit}, true
		}
	case *sdl.WindowEvent:
		switch e.Event {
		case sdl.WINDOWEVENT_CLOSE:
			return Event{Kind: Quit}, true
		case sdl.WINDOWEVENT_MINIMIZED:
			return Event{Kind: Minimized}, true
		case sdl.WINDOWEVENT_RESTORED:
			return Event{Kind: Restored}, true
		case sdl.WINDOWEVENT_RESIZED, sdl.WINDOWEVENT_SIZE_CHANGED:
			return Event{Kind: Resized, Width: int(e.Data1), Height: int(e.Data2)}, true
		}
	}
	return Event{}, false
}
