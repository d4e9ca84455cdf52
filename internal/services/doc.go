// Package services holds cross-cutting helpers shared by Gazette's
// subsystems: sentinel error markers with a Wrap helper for classification,
// and context annotation for correlation of feeds, articles, jobs, and runs
// in structured logs.
package services
