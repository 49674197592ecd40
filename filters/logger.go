package filters

import (
	"time"

	"github.com/latticehttp/lattice"
)

// LineLogger is the minimal logging surface RequestLogger needs;
// *xlog.Logger satisfies it, kept as an interface here so filters does
// not import internal/xlog and create a dependency a public package
// should not have on an internal one.
type LineLogger interface {
	Infoj(fields map[string]interface{})
	Errorj(fields map[string]interface{})
}

// RequestLogger logs one structured line per request: method, path,
// status, duration and request id, grounded on the teacher's
// gases/logger.go request-logging gas, generalized from its
// text/template formatter to structured fields consumed by
// internal/xlog.
type RequestLogger struct {
	path   string
	Logger LineLogger
}

// NewRequestLogger returns a RequestLogger scoped to path, emitting
// through logger.
func NewRequestLogger(path string, logger LineLogger) *RequestLogger {
	return &RequestLogger{path: path, Logger: logger}
}

func (f *RequestLogger) Path() string { return f.path }

func (f *RequestLogger) Filter(next lattice.Next, req *lattice.Request, resource lattice.Resource) (interface{}, error) {
	start := time.Now()

	resp, err := next(req)

	fields := map[string]interface{}{
		"method":      req.Method,
		"path":        req.URL.Path,
		"request_id":  req.ID(),
		"duration_ms": time.Since(start).Milliseconds(),
	}

	if err != nil {
		fields["error"] = err.Error()
		if f.Logger != nil {
			f.Logger.Errorj(fields)
		}

		return nil, err
	}

	fields["status"] = resp.Status

	if f.Logger != nil {
		f.Logger.Infoj(fields)
	}

	return resp, nil
}
