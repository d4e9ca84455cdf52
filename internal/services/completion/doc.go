// Package completion talks to an OpenAI-compatible chat completion API to
// produce article summaries, key points, topic tags, and relevance scores.
// Responses are requested as JSON objects and decoded defensively, since
// models sometimes wrap JSON in markdown fences or prose.
package completion
