package engine

import "github.com/ja7ad/policyd/pkg/types"

// ObjectPlatform is the root object carrying platform-wide policy.
const ObjectPlatform = "platform"

// AttributeObject names the object of one firmware attribute.
func AttributeObject(name types.AttrName) string {
	return "attributes/" + string(name)
}

// Change describes one successful property mutation.
type Change struct {
	Object   string `json:"object"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// Notifier receives change notifications. Notify is called outside the
// engine lock and must not block.
type Notifier interface {
	Notify(c Change)
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(Change)

func (f NotifyFunc) Notify(c Change) { f(c) }

type nopNotifier struct{}

func (nopNotifier) Notify(Change) {}
