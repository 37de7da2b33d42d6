package budget

import "sync"

// Registry hands out budget controllers to sessions. Sessions created
// without their own controller register here and are served by the shared
// instance, so unconfigured sessions still obey budgets.
//
// Modeled as an explicit injectable object rather than package-level state
// so tests can build isolated registries.
type Registry struct {
	mu       sync.RWMutex
	shared   *Controller
	sessions map[string]*Controller
}

// NewRegistry creates a registry whose shared controller is used for any
// session without a dedicated one.
func NewRegistry(shared *Controller) *Registry {
	return &Registry{
		shared:   shared,
		sessions: make(map[string]*Controller),
	}
}

// Register binds a dedicated controller to a session. Passing nil
// registers the session to be served by the shared instance.
func (r *Registry) Register(sessionID string, controller *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if controller == nil {
		delete(r.sessions, sessionID)
		return
	}
	r.sessions[sessionID] = controller
}

// For returns the controller serving sessionID: its dedicated one when
// registered, the shared instance otherwise.
func (r *Registry) For(sessionID string) *Controller {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if controller, ok := r.sessions[sessionID]; ok {
		return controller
	}
	return r.shared
}
