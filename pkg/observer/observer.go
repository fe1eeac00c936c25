// Package observer implements the manager's change-notification registry.
// Notifications are dispatched synchronously, once per mutating operation,
// carrying the union of every key that changed — never one callback per
// key and never from a goroutine, matching the single-threaded,
// non-reentrant execution model the rest of the store follows.
package observer

import "github.com/cuemby/fides/pkg/key"

// Observer is notified when the merged settings namespace changes.
type Observer interface {
	OnSettingsChanged(changed []key.Key)
}

// ObserverFunc adapts a plain function to the Observer interface.
type ObserverFunc func(changed []key.Key)

func (f ObserverFunc) OnSettingsChanged(changed []key.Key) { f(changed) }

// Registry holds the set of observers to notify after a mutation.
type Registry struct {
	observers []Observer
}

// New returns an empty Registry.
func New() *Registry { return &Registry{} }

// Register adds obs to the set of observers notified on change. It returns
// a token that Unregister accepts to remove obs again.
func (r *Registry) Register(obs Observer) int {
	r.observers = append(r.observers, obs)
	return len(r.observers) - 1
}

// Unregister removes the observer identified by token, the value Register
// returned when it was added. Unregistering an already-removed or unknown
// token is a no-op.
func (r *Registry) Unregister(token int) {
	if token < 0 || token >= len(r.observers) || r.observers[token] == nil {
		return
	}
	r.observers[token] = nil
}

// Notify calls every registered observer's OnSettingsChanged synchronously,
// in registration order, with the same changed slice. It must be called at
// most once per mutating operation, after that operation's state changes
// are fully committed, and must never itself be called reentrantly from
// within an observer callback.
func (r *Registry) Notify(changed []key.Key) {
	if len(changed) == 0 {
		return
	}
	for _, obs := range r.observers {
		if obs == nil {
			continue
		}
		obs.OnSettingsChanged(changed)
	}
}
