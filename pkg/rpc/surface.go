package rpc

import (
	"context"
	"strings"

	"github.com/ja7ad/policyd/pkg/engine"
	"github.com/ja7ad/policyd/pkg/hal"
	"github.com/ja7ad/policyd/pkg/types"
)

// Actions.
const (
	ActionGet       = "get"
	ActionSet       = "set"
	ActionCall      = "call"
	ActionObjects   = "objects"
	ActionStats     = "stats"
	ActionSubscribe = "subscribe"
)

// Methods of the platform object.
const (
	MethodOneShotFullCharge   = "one_shot_full_charge"
	MethodNextThrottlePolicy  = "next_throttle_thermal_policy"
	MethodSupportedProperties = "supported_properties"
)

// Properties of an attribute object besides the descriptor fields.
const (
	PropName           = "name"
	PropCurrentValue   = "current_value"
	PropAvailableAttrs = "available_attrs"
)

var platformMethods = []string{MethodOneShotFullCharge, MethodNextThrottlePolicy, MethodSupportedProperties}

// ObjectInfo describes one addressable object.
type ObjectInfo struct {
	Path       string   `json:"path"`
	Properties []string `json:"properties"`
	Methods    []string `json:"methods,omitempty"`
}

// Surface maps requests onto the engine: the platform object carries the
// root properties and methods, and each firmware attribute is an object
// of its own under attributes/.
type Surface struct {
	e   *engine.Engine
	hub *Hub
}

func NewSurface(e *engine.Engine, hub *Hub) *Surface {
	return &Surface{e: e, hub: hub}
}

// Register installs every action on srv.
func (s *Surface) Register(srv *Server) {
	srv.Handle(ActionGet, s.get)
	srv.Handle(ActionSet, s.set)
	srv.Handle(ActionCall, s.call)
	srv.Handle(ActionObjects, s.objects)
	srv.Handle(ActionStats, s.stats)
	srv.HandleStream(ActionSubscribe, s.subscribe)
}

func (s *Surface) get(ctx context.Context, req *Request) (any, error) {
	if req.Object == engine.ObjectPlatform {
		return s.e.GetProperty(ctx, types.Property(req.Property))
	}
	a, err := s.attribute(req.Object)
	if err != nil {
		return nil, err
	}
	d := a.Descriptor()
	switch req.Property {
	case PropName:
		return string(a.Name()), nil
	case PropCurrentValue:
		return a.CurrentValue()
	case PropAvailableAttrs:
		return a.AvailableAttrs(), nil
	case hal.FieldDefault:
		return d.Default.Ptr(), nil
	case hal.FieldMin:
		return d.Min.Ptr(), nil
	case hal.FieldMax:
		return d.Max.Ptr(), nil
	case hal.FieldStep:
		return d.Step.Ptr(), nil
	case hal.FieldPossible:
		if len(d.Possible) == 0 {
			return (*[]int32)(nil), nil
		}
		return d.Possible, nil
	}
	return nil, hal.Invalidf("%s has no property %q", req.Object, req.Property)
}

func (s *Surface) set(ctx context.Context, req *Request) (any, error) {
	if req.Object == engine.ObjectPlatform {
		return nil, s.e.SetProperty(ctx, types.Property(req.Property), req.Value)
	}
	a, err := s.attribute(req.Object)
	if err != nil {
		return nil, err
	}
	if req.Property != PropCurrentValue {
		return nil, hal.Invalidf("%s.%s is read-only", req.Object, req.Property)
	}
	v, err := engine.ToInt32(req.Value)
	if err != nil {
		return nil, err
	}
	return nil, a.SetCurrentValue(ctx, v)
}

func (s *Surface) call(ctx context.Context, req *Request) (any, error) {
	if req.Object != engine.ObjectPlatform {
		if _, err := s.attribute(req.Object); err != nil {
			return nil, err
		}
		return nil, hal.Invalidf("%s has no method %q", req.Object, req.Method)
	}
	switch req.Method {
	case MethodOneShotFullCharge:
		return nil, s.e.OneShotFullCharge(ctx)
	case MethodNextThrottlePolicy:
		return s.e.NextThrottlePolicy(ctx)
	case MethodSupportedProperties:
		return s.e.SupportedProperties(), nil
	}
	return nil, hal.Invalidf("%s has no method %q", req.Object, req.Method)
}

func (s *Surface) objects(context.Context, *Request) (any, error) {
	props := s.e.SupportedProperties()
	root := ObjectInfo{Path: engine.ObjectPlatform, Methods: platformMethods}
	for _, p := range props {
		root.Properties = append(root.Properties, string(p))
	}
	out := []ObjectInfo{root}
	for _, a := range s.e.Attributes().All() {
		info := ObjectInfo{
			Path:       a.Object(),
			Properties: []string{PropName, PropCurrentValue, PropAvailableAttrs},
		}
		info.Properties = append(info.Properties, a.AvailableAttrs()...)
		out = append(out, info)
	}
	return out, nil
}

func (s *Surface) stats(context.Context, *Request) (any, error) {
	out := s.e.Stats().Snapshot()
	out["notifications_dropped"] = s.hub.Dropped()
	out["subscribers"] = uint64(s.hub.Subscribers())
	return out, nil
}

func (s *Surface) subscribe(ctx context.Context, _ *Request, send func(any) error) error {
	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)
	for {
		select {
		case <-ctx.Done():
			return nil
		case c := <-ch:
			if err := send(c); err != nil {
				return err
			}
		}
	}
}

func (s *Surface) attribute(object string) (*engine.Attribute, error) {
	name, ok := strings.CutPrefix(object, "attributes/")
	if !ok {
		return nil, hal.Invalidf("unknown object %q", object)
	}
	a, ok := s.e.Attributes().Get(types.AttrName(name))
	if !ok {
		return nil, hal.Invalidf("unknown attribute %q", name)
	}
	return a, nil
}
