// Package sse streams continuous node snapshots to editor clients as
// Server-Sent Events.
//
// The Hub receives every snapshot change from the continuous manager and
// fans it out to the connected clients whose node filter matches. A client
// that cannot keep up loses events rather than slowing the manager down;
// the next snapshot carries the full state again.
//
//	hub := sse.NewHub()
//	go hub.Run()
//	mgr := continuous.NewManager(reg, launch, cfg, continuous.WithObserver(hub.ObserveSnapshot))
//	router.GET("/events", func(c *gin.Context) {
//	    sse.ServeSSE(hub, c.Writer, c.Request, uuid.NewString(), c.Query("node"), nil)
//	})
package sse
