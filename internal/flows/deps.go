package flows

// Deps groups the flow dependency sets the Engine builds once at construction.
type Deps[R any] struct {
	Resolve      ResolveDeps[R]
	Authenticate AuthenticateDeps[R]
}
