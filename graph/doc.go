// Package graph models the node graph: nodes referencing components by id,
// typed edges between ports, structural validation, dependency levels and
// the YAML document the editor saves.
//
// A saved document never holds runtime state. Loading a graph yields nodes
// that are all idle; callers reset the continuous manager when they load.
package graph
