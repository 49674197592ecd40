package lattice

import (
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Resource is the minimal contract every registered resource type
// satisfies: a path-regex source. The verb methods (Get, Post, ...),
// Init, Close and Catch are optional and detected by type assertion,
// the Go-idiomatic equivalent of spec.md section 4.6's "implements
// some subset of {HEAD, GET, ..., init, close, catch}" (the same
// optional-interface pattern net/http itself uses for
// Flusher/Hijacker/Pusher).
type Resource interface {
	Path() string
}

// Handler is the signature every verb method and every filter's next
// continuation share.
type Handler func(req *Request) (interface{}, error)

// Optional per-verb interfaces a Resource may implement.
type (
	HeadHandler    interface{ Head(req *Request) (interface{}, error) }
	GetHandler     interface{ Get(req *Request) (interface{}, error) }
	PutHandler     interface{ Put(req *Request) (interface{}, error) }
	PostHandler    interface{ Post(req *Request) (interface{}, error) }
	PatchHandler   interface{ Patch(req *Request) (interface{}, error) }
	DeleteHandler  interface{ Delete(req *Request) (interface{}, error) }
	OptionsHandler interface{ Options(req *Request) (interface{}, error) }
	DefaultHandler interface{ Default(req *Request) (interface{}, error) }

	Initializer interface{ Init() error }
	Finisher    interface{ Close() error }
	Catcher     interface{ Catch(err error, req *Request) (interface{}, error) }
)

// Next is what a Filter calls to run the remainder of the chain. Per
// spec.md section 5 ("each filter's post-next code observes a fully
// produced response object and may transform it"), a successful call
// already carries a fully-built *Response; only errors are left
// uncoerced so catch/error-handler logic still sees the raw error.
type Next func(req *Request) (*Response, error)

// Filter is spec.md section 4.6's addFilter contract: a path-scoped
// middleware that wraps the next handler in the chain.
type Filter interface {
	Path() string
	Filter(next Next, req *Request, resource Resource) (interface{}, error)
}

// ResourceFactory lazily builds a Resource. Per spec.md section 4.6
// step 4, "resource is a lazy factory; calling it for the first time
// constructs the resource instance and awaits its init" — the
// instance is memoized afterward, matching a singleton-per-route
// resource the way the teacher registers a single handler value per
// route rather than one per request.
type ResourceFactory func() Resource

type resourceEntry struct {
	path    string
	factory ResourceFactory

	once     sync.Once
	instance Resource
	initErr  error
}

func (re *resourceEntry) get() (Resource, error) {
	re.once.Do(func() {
		re.instance = re.factory()
		if init, ok := re.instance.(Initializer); ok {
			re.initErr = init.Init()
		}
	})

	return re.instance, re.initErr
}

type filterEntry struct {
	path   string
	filter Filter
}

// ErrorHandler is spec.md section 4.6's setErrorHandler contract: the
// service-wide fallback that runs after a resource's own Catch and
// before the default error mapping.
type ErrorHandler func(err error, req *Request) (*Response, error)

// Service is the router component (spec.md section 2 C6, section
// 4.6): a set of resources and filters mounted under one path prefix,
// dispatching through a lazily-compiled merged regex.
//
// This is a deliberate divergence from router.go's radix tree: the
// spec mandates merged-regex routing (capture-offset rewriting, one
// compiled regexp per service), so the matching algorithm here is new
// code, though addResource/addFilter's naming and panic-on-bad-path
// validation style are grounded on router.go's add().
type Service struct {
	MountPrefix string

	SlowRequestThreshold time.Duration
	Logger               func(msg string, fields map[string]interface{})

	resources []*resourceEntry
	filters   []*filterEntry

	errorHandler ErrorHandler

	compileOnce sync.Once
	merged      *mergedRoute
	filterRts   []*filterRoute
}

// NewService returns a Service mounted at prefix, which must begin and
// end with "/" (spec.md section 4.7).
func NewService(prefix string) *Service {
	if prefix == "" {
		prefix = "/"
	}

	return &Service{MountPrefix: prefix}
}

// AddResource registers a resource factory under path, a regex source
// that must not contain "^", "$" or a leading escaped slash (spec.md
// section 4.6).
func (s *Service) AddResource(path string, factory ResourceFactory) {
	validateRoutePath(path)
	s.resources = append(s.resources, &resourceEntry{path: path, factory: factory})
}

// AddFilter registers a path-scoped filter, consulted in registration
// order (spec.md section 4.6, section 5 "filters run strictly in
// registration order").
func (s *Service) AddFilter(path string, filter Filter) {
	validateRoutePath(path)
	s.filters = append(s.filters, &filterEntry{path: path, filter: filter})
}

// SetErrorHandler installs the service-wide error handler consulted
// after a resource's own Catch (spec.md section 4.6).
func (s *Service) SetErrorHandler(h ErrorHandler) {
	s.errorHandler = h
}

func (s *Service) compile() {
	s.compileOnce.Do(func() {
		s.merged = compileRoutes(s.MountPrefix, s.resources)

		rts := make([]*filterRoute, 0, len(s.filters))
		for _, fe := range s.filters {
			rts = append(rts, compileFilterRoute(s.MountPrefix, fe))
		}

		s.filterRts = rts
	})
}

// Dispatch runs the full request lifecycle from spec.md section 4.6
// step 2 onward: match, collect filters, build and run the chain,
// normalize errors.
func (s *Service) Dispatch(req *Request) *Response {
	s.compile()

	rt, params, ok := s.merged.match(req.URL.Path)
	if !ok {
		return s.toResponse(req, ErrNotFound)
	}

	for k, v := range params {
		req.pathParams[k] = v
	}

	var matchedFilters []*filterEntry
	for _, fr := range s.filterRts {
		if fr.pattern.MatchString(req.URL.Path) {
			matchedFilters = append(matchedFilters, fr.filter)
		}
	}

	resource, err := rt.resource.get()
	if err != nil {
		return s.toResponse(req, err)
	}

	handler, err := selectVerbHandler(resource, req.Method)
	if err != nil {
		return s.toResponse(req, err)
	}

	chain := buildChain(matchedFilters, resource, handler, s.toResponse)

	resp, err := chain(req)
	if err != nil {
		return s.runCatch(req, resource, err)
	}

	return resp
}

// buildChain composes filters right-to-left into a single Next, so
// that invoking the outermost filter's next eventually runs the
// resource's verb handler and every step in between. toResp coerces a
// raw handler/filter return value into a *Response exactly the way
// Service.toResponse does, so each filter's own next() already hands
// it a fully-built response to inspect or transform (spec.md section
// 5), while errors skip coercion and propagate straight to Dispatch's
// runCatch.
func buildChain(filters []*filterEntry, resource Resource, final Handler, toResp func(*Request, interface{}) *Response) Next {
	chain := Next(func(req *Request) (*Response, error) {
		v, err := final(req)
		if err != nil {
			return nil, err
		}

		return toResp(req, v), nil
	})

	for i := len(filters) - 1; i >= 0; i-- {
		f := filters[i].filter
		next := chain
		chain = func(req *Request) (*Response, error) {
			v, err := f.Filter(next, req, resource)
			if err != nil {
				return nil, err
			}

			return toResp(req, v), nil
		}
	}

	return chain
}

// selectVerbHandler implements spec.md section 4.6 step 5: the method
// matching the verb, else GET for HEAD, else Default; absent all
// three, synthesize OPTIONS or fail method-not-allowed.
func selectVerbHandler(resource Resource, method string) (Handler, error) {
	if h, ok := verbHandler(resource, method); ok {
		return h, nil
	}

	if method == http.MethodHead {
		if h, ok := verbHandler(resource, http.MethodGet); ok {
			return h, nil
		}
	}

	if d, ok := resource.(DefaultHandler); ok {
		return d.Default, nil
	}

	allow := allowedMethods(resource)

	if method == http.MethodOptions {
		return func(req *Request) (interface{}, error) {
			return &Response{
				Status: http.StatusOK,
				Header: http.Header{"Allow": {joinAllow(allow)}},
			}, nil
		}, nil
	}

	return nil, &MethodNotAllowedError{Allow: allow}
}

func verbHandler(resource Resource, method string) (Handler, bool) {
	switch method {
	case http.MethodHead:
		if h, ok := resource.(HeadHandler); ok {
			return h.Head, true
		}
	case http.MethodGet:
		if h, ok := resource.(GetHandler); ok {
			return h.Get, true
		}
	case http.MethodPut:
		if h, ok := resource.(PutHandler); ok {
			return h.Put, true
		}
	case http.MethodPost:
		if h, ok := resource.(PostHandler); ok {
			return h.Post, true
		}
	case http.MethodPatch:
		if h, ok := resource.(PatchHandler); ok {
			return h.Patch, true
		}
	case http.MethodDelete:
		if h, ok := resource.(DeleteHandler); ok {
			return h.Delete, true
		}
	case http.MethodOptions:
		if h, ok := resource.(OptionsHandler); ok {
			return h.Options, true
		}
	}

	return nil, false
}

// allowedMethods derives the Allow header set by reflection over which
// optional verb interfaces resource implements, per spec.md section
// 4.6 step 5.
func allowedMethods(resource Resource) []string {
	var allow []string

	checks := []struct {
		method string
		probe  interface{}
	}{
		{http.MethodGet, (*GetHandler)(nil)},
		{http.MethodPut, (*PutHandler)(nil)},
		{http.MethodPost, (*PostHandler)(nil)},
		{http.MethodPatch, (*PatchHandler)(nil)},
		{http.MethodDelete, (*DeleteHandler)(nil)},
	}

	rv := reflect.ValueOf(resource)

	for _, c := range checks {
		ifaceType := reflect.TypeOf(c.probe).Elem()
		if rv.Type().Implements(ifaceType) {
			allow = append(allow, c.method)
		}
	}

	if _, ok := resource.(GetHandler); ok {
		allow = append(allow, http.MethodHead)
	}

	allow = append(allow, http.MethodOptions)

	sort.Strings(allow)

	return allow
}

func joinAllow(methods []string) string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}

		out += m
	}

	return out
}

// runCatch implements spec.md section 4.6's error-normalization order:
// the resource's own Catch runs first, then the service-wide handler,
// then the default mapping (errors.go's normalizeError).
func (s *Service) runCatch(req *Request, resource Resource, err error) *Response {
	if c, ok := resource.(Catcher); ok {
		if v, cerr := c.Catch(err, req); cerr == nil {
			return s.toResponse(req, v)
		} else {
			err = cerr
		}
	}

	if s.errorHandler != nil {
		if resp, herr := s.errorHandler(err, req); herr == nil {
			return resp
		} else {
			err = herr
		}
	}

	return s.toResponse(req, normalizeError(err))
}

// toResponse implements spec.md section 4.6 step 6: the handler's
// return value may be a *Response (used as-is), an EventSource
// (wrapped as an event-stream response), an error, or any other value
// (wrapped in 200, or 204 if nil).
func (s *Service) toResponse(req *Request, value interface{}) *Response {
	switch v := value.(type) {
	case *Response:
		return v
	case *Error:
		resp, _ := NewResponse(v.Status, v.Message, v.Headers)
		return resp
	case error:
		return s.toResponse(req, normalizeError(v))
	case EventSource:
		return NewEventStreamResponse(req.shutdownAwareContext(), v, "", nil, 0)
	case nil:
		resp, _ := NewResponse(http.StatusNoContent, nil, nil)
		return resp
	default:
		resp, err := NewResponse(http.StatusOK, v, nil)
		if err != nil {
			return s.toResponse(req, err)
		}

		return resp
	}
}
