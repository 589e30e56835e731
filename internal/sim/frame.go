package sim

// Frame is an immutable snapshot handed from the update phase to the render
// phase.
type Frame struct {
	Tick   uint64 `json:"tick"`
	Arena  Arena  `json:"arena"`
	Player Entity `json:"player"`
	Bots   []Bot  `json:"bots,omitempty"`
	// Held names the movement keys held during the tick.
	Held []string `json:"held,omitempty"`
}

// Renderer draws frames. Implementations live outside the simulation.
type Renderer interface {
	Render(frame Frame) error
}

// RendererFunc adapts a function into a Renderer.
type RendererFunc func(frame Frame) error

func (f RendererFunc) Render(frame Frame) error {
	if f == nil {
		return nil
	}
	return f(frame)
}
