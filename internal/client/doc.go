// Package client is the caller side of a dgpool worker range.
//
// A Client holds one channel per worker port. Each query takes the first
// idle channel, connecting it lazily, and blocks only when every channel is
// busy. A channel that fails a round trip is closed and reconnects on its
// next use.
package client
