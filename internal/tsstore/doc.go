// Package tsstore implements the streaming-write client for a tsstore
// time-series server reached over a local stream socket.
//
// The protocol is line oriented. A session looks like:
//
//	-> AUTH <store_name> <api_key>
//	<- OK
//	-> {"temp": 21.5, "humidity": 40.2}
//	<- OK 1700000000123456789
//	-> QUIT
//
// The client is a small state machine:
//
//	Disconnected -> Connecting -> Authenticating -> Ready -> Failed -> Disconnected
//	       any state -> Terminated (Shutdown)
//
// Every exchange is synchronous and bounded by a 5 second deadline. Any failure
// releases the transport and leaves the client in Failed; the caller waits
// NextRetryDelay before connecting again. A record whose write failed is never
// resent by the client.
//
// Thread Safety:
//   - Connect, Write and Shutdown must be driven from a single goroutine.
//   - State, Stats and NextRetryDelay are safe to call from any goroutine.
package tsstore
