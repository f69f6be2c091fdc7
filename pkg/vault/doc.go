// Package vault talks to the external pattern vault. When a worker is
// sunset, its learned patterns are exported for preservation before the
// incarnation is retired; a failed export blocks retirement.
package vault
