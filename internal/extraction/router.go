package extraction

// Route names the two execution paths against the extraction service.
type Route int

const (
	// RouteSync sends the document through the blocking parse endpoint.
	RouteSync Route = iota
	// RouteAsync submits a job and polls for completion.
	RouteAsync
)

func (r Route) String() string {
	if r == RouteSync {
		return "sync"
	}
	return "async"
}

// Router picks the path by payload size. The threshold is injected from
// configuration; this package carries no default of its own.
type Router struct {
	syncMaxBytes int64
}

func NewRouter(syncMaxBytes int64) *Router {
	return &Router{syncMaxBytes: syncMaxBytes}
}

// Choose routes size at or below the threshold to the sync path. The
// boundary itself is sync.
func (r *Router) Choose(size int64) Route {
	if size <= r.syncMaxBytes {
		return RouteSync
	}
	return RouteAsync
}
