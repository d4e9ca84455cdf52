// Package feed fetches syndication feeds over HTTP with conditional caching
// and normalizes them into a flat item model. Malformed XML parses to an
// empty item list so one bad feed never aborts a poll cycle.
package feed
