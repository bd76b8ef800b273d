// Package transport provides the device connections.
//
// Every transport satisfies device.Transport: it opens on demand, writes
// encoded messages and hands every line it reads to a receiver callback.
//
//   - Serial: serial ports via go.bug.st/serial, reconnecting with backoff
//   - Telnet: line based TCP with optional greeting, idle close and keepalive
//   - Unix: receive-only unix stream socket (lircd)
//   - Exec: one process per write (sispmctl)
package transport
