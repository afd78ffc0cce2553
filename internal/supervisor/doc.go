// Package supervisor owns the worker process pool.
//
// Ownership boundary:
// - worker count resolution and port range allocation
// - one OS process per worker, supervised and respawned on crash
// - heartbeat idle loop and shutdown
//
// Each worker runs in its own process so a crash-prone computation can only
// take down one port. Shutdown reaches a child through its process (SIGTERM)
// and its control pipe (stdin EOF); the supervisor never touches a child's
// sockets directly.
package supervisor
