package router

import (
	"fmt"

	"github.com/pario-ai/kotoba/pkg/config"
	"github.com/pario-ai/kotoba/pkg/models"
	"github.com/pario-ai/kotoba/pkg/retry"
)

// DefaultModel is used when an operation has no configured model.
const DefaultModel = "gemini-2.0-flash"

// Route is the resolved upstream target and retry policy for an operation.
type Route struct {
	Operation   models.Operation
	Model       string
	Policy      retry.Policy
	Temperature *float64
}

// Router resolves operations to upstream routes.
type Router struct {
	cfg *config.Config
}

// New creates a Router from the given configuration.
func New(cfg *config.Config) *Router {
	return &Router{cfg: cfg}
}

// Resolve returns the route for op. The default retry policy is overlaid
// with the fields set in the operation's own retry block.
func (r *Router) Resolve(op models.Operation) (Route, error) {
	if _, err := models.ParseOperation(string(op)); err != nil {
		return Route{}, err
	}

	rc := r.cfg.Routes[op]
	route := Route{
		Operation:   op,
		Model:       rc.Model,
		Policy:      rc.Retry.Apply(r.cfg.Retry),
		Temperature: rc.Temperature,
	}
	if route.Model == "" {
		route.Model = DefaultModel
	}

	if err := route.Policy.Validate(); err != nil {
		return Route{}, fmt.Errorf("route %q: %w", op, err)
	}
	return route, nil
}
