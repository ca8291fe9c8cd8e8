// Package api exposes the retrieval engine over REST: recommendation,
// personalized text search, similar-item lookup, interaction ingestion,
// and the admin surface for index rebuilds and cache maintenance.
//
// The package holds no business logic; handlers translate JSON requests
// into engine calls and engine errors into HTTP status codes.
package api
