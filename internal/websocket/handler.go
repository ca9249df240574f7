package websocket

// Serve pumps an accepted connection until the peer goes away. onJoin runs
// once the client is in its session group, so anything it queues is followed
// only by newer deltas.
func Serve(client *Client, onJoin func(*Client), onMessage InboundHandler) {
	if !client.Hub.Register(client) {
		client.Conn.Close()
		return
	}
	if onJoin != nil {
		onJoin(client)
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	client.readPump(onMessage) // Run readPump in current goroutine (handler)
}
