// Package privacy scores node outputs for re-identification risk.
//
// The Gate wraps a pluggable assessor and guarantees that HIGH risk output
// is never accepted. A rejected output is not an execution failure: the
// node still succeeds but its data is withheld from the job state.
package privacy
