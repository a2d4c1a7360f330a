// Package services defines the business logic for schedule lifecycle,
// Zoom cache synchronization, and assignment execution. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer and
// translation into user-facing messages or HTTP status codes should be
// performed at the handler layer.
package services

import "errors"

var (
	// ErrCacheEmpty is returned when classification or execution is
	// attempted before any Zoom data has been synchronized.
	ErrCacheEmpty = errors.New("zoom cache is empty")

	// ErrNoAssignments is returned when an execution request resolves to
	// zero valid meeting/instructor pairs.
	ErrNoAssignments = errors.New("no valid assignments to execute")

	// ErrNoRows is returned when a classification request carries no rows.
	ErrNoRows = errors.New("no rows to classify")

	// ErrZoomAuth is returned when the Zoom token exchange fails before an
	// execution or sync batch starts. Nothing has been attempted yet.
	ErrZoomAuth = errors.New("zoom authorization failed")

	// ErrNoFiles is returned when an upload request contains no files.
	ErrNoFiles = errors.New("no files uploaded")
)
