// Package entities registers all entity definitions with the core registry.
// Import this package to ensure all kinds are registered.
//
// Each file declares one kind: its candidate column names (English and
// Spanish), its status vocabulary, its defaults and its Build func.
package entities
