// Package types defines the public, stable surface shared by every buskit
// package: the typed error model and the capability flag set callers feed
// into address assignment.
//
// Errors carry two orthogonal classifications. Kind says what went wrong
// (invalid address, exhausted capacity, ...) so callers can branch on
// intent rather than message text. Origin says whose fault it is: a
// ConfigOrigin error means the offending address came from a user-supplied
// definition and the configuration should be fixed; an EngineOrigin error
// means the engine computed the address itself and should never have
// produced it on valid input.
package types
