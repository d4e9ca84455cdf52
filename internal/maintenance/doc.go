// Package maintenance keeps the article table bounded: orphan cleanup
// removes articles no feed references anymore, and retention ages old
// articles out by deletion or by archiving them into metadata-only
// tombstones.
package maintenance
