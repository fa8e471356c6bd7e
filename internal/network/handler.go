package network

// EventHandler connects the transport to the game logic.
type EventHandler interface {
	// OnConnect runs on the hub goroutine when a client has been registered.
	OnConnect(c *Client)

	// OnDisconnect runs on the hub goroutine after the client's send buffer
	// has been closed. It is not called for clients dropped at shutdown.
	OnDisconnect(c *Client)

	// OnMessage runs on the client's read goroutine, so messages of one
	// client are handled in order while different clients run concurrently.
	OnMessage(c *Client, msg Message)
}
