// Package storage persists the attempt history: one record per course
// attempt, across restarts, for the operator surface and for debugging
// missed registrations.
package storage
