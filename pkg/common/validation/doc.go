// Package validation provides common validation utilities for configuration
// parameters across the jobflow library.
//
// Executors validate their Config in constructors and in setters such as
// ChangeResolution, so an invalid value is reported as a ValidationError
// instead of surfacing later as a stalled agent.
package validation
