package cli

import (
	"fmt"
	"io"
	"sync"
)

// ConsoleRouter is a courtside.Router that only remembers the route and
// prints every navigation
type ConsoleRouter struct {
	mu      sync.Mutex
	route   string
	out     io.Writer
	history []string
}

// NewConsoleRouter creates a router showing route
func NewConsoleRouter(route string, out io.Writer) *ConsoleRouter {
	return &ConsoleRouter{route: route, out: out}
}

// CurrentRoute returns the route being shown
func (r *ConsoleRouter) CurrentRoute() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.route
}

// NavigateTo records and prints a navigation
func (r *ConsoleRouter) NavigateTo(route string) {
	r.mu.Lock()
	from := r.route
	r.route = route
	r.history = append(r.history, route)
	r.mu.Unlock()

	fmt.Fprintf(r.out, "navigate: %s -> %s\n", from, route)
}

// History returns every route navigated to, oldest first
func (r *ConsoleRouter) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}
