// Package executor runs a node graph once.
//
// Nodes are grouped into dependency levels; nodes of one level run
// concurrently (bounded by Config.MaxParallel) and a level starts only
// after the previous one finished. Each one-shot node gets its own host
// handle for the duration of its call. Continuous nodes are not executed:
// their latest published outputs, if any, feed downstream nodes.
//
//	exec := executor.New(reg, h, executor.Config{})
//	res, err := exec.Run(ctx, g)
//	if err != nil {
//	    // structural: nothing ran
//	}
//	for id, nr := range res.Nodes {
//	    ...
//	}
package executor
