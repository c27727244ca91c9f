package controller

type Phase string

const (
	Unconfigured Phase = "UNCONFIGURED"
	Rendering    Phase = "RENDERING"
	Configured   Phase = "CONFIGURED"
	Active       Phase = "ACTIVE"
	Leaving      Phase = "LEAVING"
	Terminated   Phase = "TERMINATED"
)

var Phases = []Phase{Unconfigured, Rendering, Configured, Active, Leaving, Terminated}

// phase derives the node phase. Caller holds c.mu.
func (c *Controller) phase() Phase {
	switch {
	case c.terminal:
		return Terminated
	case c.leaving:
		return Leaving
	case c.st.IsStarted && c.st.IsClusterSetup:
		return Active
	case c.st.IsStarted:
		return Configured
	case c.rendering:
		return Rendering
	default:
		return Unconfigured
	}
}
