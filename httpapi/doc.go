// Package httpapi exposes the bank-link operations over HTTP. It mounts a
// chi router with the connect, callback, status, sync, and disconnect
// endpoints and translates service errors into the shared error envelope.
package httpapi
