package sim

// A Named object is an object that has a name.
type Named interface {
	Name() string
}

// A Component is a named element of the simulated system that handles its
// own events and accepts hooks.
type Component interface {
	Named
	Handler
	Hookable
}

// ComponentBase provides the name and the hook support of a Component.
type ComponentBase struct {
	HookableBase
	name string
}

// NewComponentBase creates a new ComponentBase
func NewComponentBase(name string) *ComponentBase {
	NameMustBeValid(name)

	return &ComponentBase{name: name}
}

// Name returns the name of the component.
func (c *ComponentBase) Name() string {
	return c.name
}
