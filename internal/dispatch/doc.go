// Package dispatch owns the qrun rendezvous socket.
//
// Acquire decides the process role: binding the socket makes the caller the
// server, finding it held by a live daemon yields ErrInUse and the caller acts
// as a client. A socket file nobody answers on is stale and is replaced under
// a file lock.
//
// Server accepts one connection at a time, reads a single framed request,
// and either answers a control command or forwards a submission to the queue
// manager. The loop blocks in Accept; the Coordinator ends it by connecting
// to the socket itself and sending the wake-up request, either after an
// explicit stop or when the last queue drains. Cancelling the Serve context
// closes the listener as well.
package dispatch
