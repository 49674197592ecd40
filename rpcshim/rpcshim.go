// Package rpcshim is a small convenience layer mapping a plain Go
// value's exported methods onto a lattice.Resource, for the common
// case of a handful of RPC-shaped functions that don't need their own
// hand-written Resource boilerplate. It is explicitly a convenience
// shim outside the dispatch core, the same role the teacher's
// WrapHTTPHandler/WrapHTTPMiddleware helpers in air.go play: adapting
// a foreign shape into the framework's own, rather than adding a new
// core abstraction.
package rpcshim

import (
	"net/http"
	"reflect"

	"github.com/latticehttp/lattice"
)

// MethodHandler is the signature every mapped method must have.
type MethodHandler func(req *lattice.Request) (interface{}, error)

var methodHandlerType = reflect.TypeOf(MethodHandler(nil))

// verbMethodNames maps an HTTP verb to the exported method name rpcshim
// looks for on the wrapped value, e.g. a GET request dispatches to a
// method literally named "Get".
var verbMethodNames = map[string]string{
	http.MethodGet:     "Get",
	http.MethodHead:    "Head",
	http.MethodPost:    "Post",
	http.MethodPut:     "Put",
	http.MethodPatch:   "Patch",
	http.MethodDelete:  "Delete",
	http.MethodOptions: "Options",
}

// Shim adapts target's exported Get/Post/Put/Patch/Delete/Head/Options
// methods (each of type MethodHandler) into the optional per-verb
// interfaces lattice.Service.AddResource expects, so a plain struct of
// loosely RPC-shaped methods can be registered as a resource without
// implementing lattice.GetHandler etc. by hand.
type Shim struct {
	path    string
	target  interface{}
	methods map[string]MethodHandler
}

// Wrap inspects target via reflection and returns a Shim exposing
// whichever of Get/Head/Post/Put/Patch/Delete/Options it finds with
// the exact MethodHandler signature. path is the resource's route
// pattern, passed through unchanged to AddResource.
func Wrap(path string, target interface{}) *Shim {
	s := &Shim{path: path, target: target, methods: map[string]MethodHandler{}}

	v := reflect.ValueOf(target)

	for verb, name := range verbMethodNames {
		m := v.MethodByName(name)
		if !m.IsValid() {
			continue
		}

		if !m.Type().ConvertibleTo(methodHandlerType) {
			continue
		}

		s.methods[verb] = m.Convert(methodHandlerType).Interface().(MethodHandler)
	}

	return s
}

func (s *Shim) Path() string { return s.path }

func (s *Shim) Get(req *lattice.Request) (interface{}, error)     { return s.call(http.MethodGet, req) }
func (s *Shim) Head(req *lattice.Request) (interface{}, error)    { return s.call(http.MethodHead, req) }
func (s *Shim) Post(req *lattice.Request) (interface{}, error)    { return s.call(http.MethodPost, req) }
func (s *Shim) Put(req *lattice.Request) (interface{}, error)     { return s.call(http.MethodPut, req) }
func (s *Shim) Patch(req *lattice.Request) (interface{}, error)   { return s.call(http.MethodPatch, req) }
func (s *Shim) Delete(req *lattice.Request) (interface{}, error)  { return s.call(http.MethodDelete, req) }
func (s *Shim) Options(req *lattice.Request) (interface{}, error) { return s.call(http.MethodOptions, req) }

// call is reached through one of the seven verb methods above, all of
// which Shim always implements regardless of what target provides —
// a deliberate simplification of the per-verb Allow-header negotiation
// lattice.Service otherwise does: an unmapped verb here is reported as
// 405 directly rather than falling through to a synthesized OPTIONS or
// Default handler.
func (s *Shim) call(verb string, req *lattice.Request) (interface{}, error) {
	h, ok := s.methods[verb]
	if !ok {
		return nil, lattice.NewError(http.StatusMethodNotAllowed, "rpcshim: %s has no %s method", s.path, verb)
	}

	return h(req)
}

// Register builds a *Shim for target and adds it to svc under path, a
// one-line convenience over Wrap+AddResource for the common case of a
// single fixed-value resource (no per-request construction).
func Register(svc *lattice.Service, path string, target interface{}) {
	svc.AddResource(path, func() lattice.Resource {
		return Wrap(path, target)
	})
}
