package lattice

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/crypto/acme/autocert"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// ServerConfig holds every *http.Server-facing and trust/transport
// knob spec.md sections 3, 4.3 and 4.7 name, plus the ambient
// ReadTimeout/WriteTimeout/IdleTimeout/MaxHeaderBytes fields every
// air-flavored Config carries (air.go's Air struct fields of the same
// name and purpose).
type ServerConfig struct {
	Address string

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int

	MaxContentLength int64

	TrustForwardedProto bool
	TrustForwardedHost  bool
	TrustMethodOverride bool
	TrustRequestID      string // header name; empty disables trust
	RequestIDHeader     string // response header name to stamp with the request id

	HTTP2 bool

	TLSCertFile string
	TLSKeyFile  string

	ACMEEnabled       bool
	ACMEHostWhitelist []string
	ACMECertRoot      string

	ProxyProtocolEnabled   bool
	ProxyReadHeaderTimeout time.Duration
	ProxyRelayerIPWhitelist []string

	ShutdownSignals []os.Signal
}

// mountedService pairs a Service with its mount prefix (spec.md
// section 4.7: "each must begin and end with /").
type mountedService struct {
	prefix  string
	service *Service
}

// Server is the C7 listener component: one *http.Server fronting
// possibly many Services mounted at distinct path prefixes, with a
// default service owning "/". Directly descended from air.go's
// Serve/Shutdown/AddShutdownJob and listener.go's PROXY-protocol
// net.Listener wrapper, generalized for multiple mounted services
// which the teacher's single-service Air does not need.
type Server struct {
	config *ServerConfig

	mu              sync.RWMutex
	services        []*mountedService
	defaultService  *Service
	mountPattern    *mergedMountPattern
	compileMountOne sync.Once

	httpServer *http.Server
	listener   *proxyListener

	connMu sync.Mutex
	conns  map[net.Conn]*connState

	closing   atomic.Bool
	closeCh   chan struct{}
	closeOnce sync.Once

	shutdownJobsMu sync.Mutex
	shutdownJobs   []func()
}

type connState struct {
	closing  bool
	inflight int
}

// NewServer returns a Server configured by cfg. A zero-valued cfg
// field falls back to the same defaults air.go's NewAir uses
// (MaxHeaderBytes: 1<<20).
func NewServer(cfg *ServerConfig) *Server {
	if cfg == nil {
		cfg = &ServerConfig{}
	}

	if cfg.MaxHeaderBytes == 0 {
		cfg.MaxHeaderBytes = 1 << 20
	}

	return &Server{
		config:  cfg,
		conns:   map[net.Conn]*connState{},
		closeCh: make(chan struct{}),
	}
}

// Done returns a channel closed once the server has entered closing,
// for callers (e.g. an in-flight EventStream) that need to select on
// shutdown rather than poll Closing() (spec.md section 5).
func (s *Server) Done() <-chan struct{} {
	return s.closeCh
}

// enterClosing flips the closing flag and closes closeCh exactly once,
// live for every already-constructed Request sharing this Server
// rather than a value snapshotted at request construction.
func (s *Server) enterClosing() {
	s.closing.Store(true)
	s.closeOnce.Do(func() { close(s.closeCh) })
}

// Mount attaches svc at prefix, which must begin and end with "/"
// (spec.md section 4.7). Mounting at "/" installs the default,
// fall-through service.
func (s *Server) Mount(prefix string, svc *Service) {
	if !strings.HasPrefix(prefix, "/") || !strings.HasSuffix(prefix, "/") {
		panic("lattice: service mount prefix must begin and end with '/': " + prefix)
	}

	svc.MountPrefix = prefix

	s.mu.Lock()
	defer s.mu.Unlock()

	if prefix == "/" {
		s.defaultService = svc
		return
	}

	s.services = append(s.services, &mountedService{prefix: prefix, service: svc})
}

// mergedMountPattern is the lazily-compiled "which service owns this
// path" selector spec.md section 4.7 describes: "a single merged
// regex of the form ^(<prefix_1>|<prefix_2>|...)", built at most once
// (the same double-checked-compile pattern compileRoutes uses for a
// single Service's own routes).
type mergedMountPattern struct {
	pattern  *regexp.Regexp
	services []*Service
}

func (s *Server) resolveService(path string) *Service {
	s.compileMountOne.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		sort.Slice(s.services, func(i, j int) bool {
			return len(s.services[i].prefix) > len(s.services[j].prefix)
		})

		alternatives := make([]string, len(s.services))
		services := make([]*Service, len(s.services))

		for i, ms := range s.services {
			alternatives[i] = "(" + regexp.QuoteMeta(ms.prefix) + ")"
			services[i] = ms.service
		}

		if len(alternatives) == 0 {
			s.mountPattern = &mergedMountPattern{}
			return
		}

		s.mountPattern = &mergedMountPattern{
			pattern:  regexp.MustCompile("^(?:" + strings.Join(alternatives, "|") + ")"),
			services: services,
		}
	})

	s.mu.RLock()
	mp := s.mountPattern
	s.mu.RUnlock()

	if mp == nil || mp.pattern == nil {
		return s.defaultService
	}

	loc := mp.pattern.FindStringSubmatchIndex(path)
	if loc == nil {
		return s.defaultService
	}

	for i, svc := range mp.services {
		if loc[2*(i+1)] != -1 {
			return svc
		}
	}

	return s.defaultService
}

// ServeHTTP implements http.Handler: selects the mounted service,
// builds the Request, dispatches, finalizes and writes the Response.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	svc := s.resolveService(r.URL.Path)
	if svc == nil {
		http.NotFound(w, r)
		return
	}

	req := newRequest(r, svc, s)
	defer req.Close()

	resp := svc.Dispatch(req)

	isHTTP2 := r.ProtoMajor == 2
	resp.finalize(req, s.config, isHTTP2)

	resp.writeTo(w)
}

// NewRequest builds a *Request from r as if it had arrived at svc
// through this Server, without going through a real listener. This is
// mainly useful for testing resources and filters in isolation.
func (s *Server) NewRequest(r *http.Request, svc *Service) *Request {
	return newRequest(r, svc, s)
}

// AddShutdownJob registers f to run once, concurrently with other
// shutdown jobs, when Stop is called (spec.md section 4.7, grounded on
// air.go's AddShutdownJob).
func (s *Server) AddShutdownJob(f func()) {
	s.shutdownJobsMu.Lock()
	defer s.shutdownJobsMu.Unlock()
	s.shutdownJobs = append(s.shutdownJobs, f)
}

// Start begins listening and serving, optionally registering OS signal
// handlers that invoke Stop, and blocking until the server is stopped
// if block is true (spec.md section 4.7 "start() ... optionally blocks
// until shutdown").
func (s *Server) Start(block bool) error {
	s.httpServer = &http.Server{
		Addr:           s.config.Address,
		Handler:        s,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		IdleTimeout:    s.config.IdleTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
		ConnState:      s.trackConnState,
	}

	var tlsConfig *tls.Config

	if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
		cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
		if err != nil {
			return err
		}

		tlsConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
	}

	if s.config.ACMEEnabled {
		mgr := &autocert.Manager{
			Prompt:     autocert.AcceptTOS,
			Cache:      autocert.DirCache(s.config.ACMECertRoot),
			HostPolicy: autocert.HostWhitelist(s.config.ACMEHostWhitelist...),
		}

		tlsConfig = mgr.TLSConfig()
	}

	if tlsConfig != nil {
		for _, proto := range []string{"h2", "http/1.1"} {
			if !containsString(tlsConfig.NextProtos, proto) {
				tlsConfig.NextProtos = append(tlsConfig.NextProtos, proto)
			}
		}
	} else if s.config.HTTP2 {
		h2s := &http2.Server{IdleTimeout: s.config.IdleTimeout}
		s.httpServer.Handler = h2c.NewHandler(s, h2s)
	}

	pl, err := newProxyListener(s.config)
	if err != nil {
		return err
	}

	if err := pl.listen(s.config.Address); err != nil {
		return err
	}

	s.listener = pl

	var netListener net.Listener = pl
	if tlsConfig != nil {
		netListener = tls.NewListener(netListener, tlsConfig)
	}

	if len(s.config.ShutdownSignals) > 0 {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, s.config.ShutdownSignals...)

		go func() {
			<-sigCh
			s.Stop(30 * time.Second)
		}()
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.httpServer.Serve(netListener) }()

	if !block {
		return nil
	}

	err = <-serveErr
	if err == http.ErrServerClosed {
		return nil
	}

	return err
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}

	return false
}

// trackConnState implements the connection bookkeeping spec.md section
// 4.7 describes: each transport channel gets an entry with a request
// counter, incremented when a request begins and decremented once its
// response is fully written.
func (s *Server) trackConnState(conn net.Conn, state http.ConnState) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	switch state {
	case http.StateNew:
		s.conns[conn] = &connState{}
	case http.StateActive:
		if cs, ok := s.conns[conn]; ok {
			cs.inflight++
		}
	case http.StateIdle:
		if cs, ok := s.conns[conn]; ok && cs.inflight > 0 {
			cs.inflight--
		}
	case http.StateClosed, http.StateHijacked:
		delete(s.conns, conn)
	}
}

// Stop implements spec.md section 4.7's three-step stop(timeout):
// mark closing and stop accepting, run shutdown jobs while net/http
// drains in-flight connections via Shutdown, and force-close if not
// drained within timeout.
func (s *Server) Stop(timeout time.Duration) error {
	s.enterClosing()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	jobsDone := make(chan struct{})

	go func() {
		s.shutdownJobsMu.Lock()
		jobs := append([]func(){}, s.shutdownJobs...)
		s.shutdownJobsMu.Unlock()

		var wg sync.WaitGroup
		for _, job := range jobs {
			if job == nil {
				continue
			}

			wg.Add(1)

			go func(job func()) {
				defer wg.Done()
				job()
			}(job)
		}

		wg.Wait()
		close(jobsDone)
	}()

	err := s.httpServer.Shutdown(ctx)

	select {
	case <-jobsDone:
	case <-ctx.Done():
		s.httpServer.Close()
		return ctx.Err()
	}

	return err
}

// Close closes the server immediately, without waiting for in-flight
// connections to drain.
func (s *Server) Close() error {
	s.enterClosing()
	return s.httpServer.Close()
}
