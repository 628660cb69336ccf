// Package analysis runs the requested text analyses over one page of raw
// markup.
package analysis

import (
	"github.com/dreamware/linkmill/internal/cluster"
)

// Func computes one action's value from a page's markup.
type Func func(markup string) *cluster.Value

// analyzers holds the actions with a defined computation. Actions missing
// from the table are accepted and report a nil value.
var analyzers = map[cluster.Action]Func{
	cluster.LinkFrequencies: func(markup string) *cluster.Value {
		return &cluster.Value{Frequencies: LinkFrequencies(markup)}
	},
}

// Supported reports whether a has a computation behind it.
func Supported(a cluster.Action) bool {
	_, ok := analyzers[a]
	return ok
}

// Run evaluates every action in actions against markup. The result has an
// entry for each requested action.
func Run(markup string, actions cluster.ActionSet) cluster.ActionResult {
	result := make(cluster.ActionResult, len(actions))
	for _, a := range actions {
		if fn, ok := analyzers[a]; ok {
			result[a] = fn(markup)
			continue
		}
		result[a] = nil
	}
	return result
}
