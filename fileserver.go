package lattice

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// FileServer is a minimal static-file resource, analogous to the
// teacher's FILES helper: it serves the tree rooted at root beneath
// whatever path it is registered under, using the "1" positional
// capture of a trailing wildcard pattern as the requested file's
// sub-path. It is deliberately thin — no directory listing, no range
// requests, no precompressed/minified variant cache — leaving anything
// beyond "serve this tree" to a purpose-built resource.
type FileServer struct {
	root string
}

// NewFileServer returns a FileServer rooted at root. Register it with
// Service.AddResource under a pattern ending in a capturing wildcard,
// e.g. AddResource(`/static/(.*)`, func() Resource { return
// NewFileServer("./public") }).
func NewFileServer(root string) *FileServer {
	return &FileServer{root: root}
}

func (*FileServer) Path() string { return "" }

// Get resolves the request's first positional capture against root,
// rejecting any attempt to escape it via "..".
func (fs *FileServer) Get(req *Request) (interface{}, error) {
	sub, ok := req.PathParam("1")
	if !ok {
		return nil, NewError(http.StatusNotFound, "not found")
	}

	sub = filepath.Clean("/" + sub)
	if strings.HasPrefix(sub, "/..") {
		return nil, NewError(http.StatusBadRequest, "invalid path")
	}

	resp, err := WriteFile(filepath.Join(fs.root, sub), nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return resp, nil
}
