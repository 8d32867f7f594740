// Package domain holds the core types and collaborator interfaces shared
// across the relay server. It has no dependencies on other internal
// packages so that every component can import it without cycles.
package domain
