// Package filters ships the first-class, ready-to-register filters
// spec.md's expanded ambient stack calls for: panic recovery, request
// logging, CORS, response gzip negotiation and HTTP Basic
// authentication — the framework's own equivalent of the teacher's
// gases package, adapted from per-handler air.GasFunc middleware into
// lattice.Filter implementations scoped by path regex.
package filters

import (
	"fmt"
	"runtime"

	"github.com/latticehttp/lattice"
)

// Recover wraps the chain in a deferred recover() that turns any panic
// into an error routed through the normal catch/error-handler
// pipeline, directly grounded on the teacher's gases/recover.go.
type Recover struct {
	path string

	// StackSize bounds how much of the panicking goroutine's stack is
	// captured. Zero defaults to 4KB, as the teacher does.
	StackSize int

	// PrintStack, when set, is called with the formatted panic and
	// stack trace instead of being discarded.
	PrintStack func(line string)
}

// NewRecover returns a Recover filter scoped to path.
func NewRecover(path string) *Recover {
	return &Recover{path: path, StackSize: 4 << 10}
}

func (f *Recover) Path() string { return f.path }

func (f *Recover) Filter(next lattice.Next, req *lattice.Request, resource lattice.Resource) (value interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			var perr error
			switch r := r.(type) {
			case error:
				perr = r
			default:
				perr = fmt.Errorf("%v", r)
			}

			if f.PrintStack != nil {
				size := f.StackSize
				if size == 0 {
					size = 4 << 10
				}

				stack := make([]byte, size)
				n := runtime.Stack(stack, false)
				f.PrintStack(fmt.Sprintf("PANIC RECOVER: %s\n%s", perr, stack[:n]))
			}

			err = perr
		}
	}()

	resp, nerr := next(req)
	if nerr != nil {
		return nil, nerr
	}

	return resp, nil
}
