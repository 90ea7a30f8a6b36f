// Package plugin provides the candidate model used by every trial: a
// case-insensitive plugin identifier, an ordered unique set of identifiers,
// and the single Normalize function that builds a concrete load order.
//
// # Identity
//
// Plugin names are compared by a lower-cased, space-trimmed key. The
// display name of the first occurrence is kept:
//
//	s := plugin.NewSet(plugin.Names("Oblivion.esm", "oblivion.ESM", "Knights.esp")...)
//	s.Len() // 2
//
// # Load orders
//
// Every trial load order is built by Normalize, in priority order
// required, optional, safe, batch:
//
//	order := plugin.Normalize(required, optional, safe, batch)
//
// # Candidate selection
//
// A Selector sorts the entries of an order file into test, patch and skip
// groups. DefaultSelector uses extensions and patch keywords;
// StarlarkSelector delegates to a user supplied classify(name) function.
package plugin
