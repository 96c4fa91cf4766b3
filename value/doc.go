// Package value defines NodeValue, the closed set of typed payloads that may
// cross a component boundary, together with port types, the compatibility
// rules used when validating edges, and the JSON wire codec shared by the
// sandbox ABI and the HTTP control surface.
//
// The set of variants is closed: Value can only be implemented inside this
// package. Every consumer switches over Kind and must panic (or return an
// error) in its default branch, so adding a variant forces a review of each
// consumption site.
package value
