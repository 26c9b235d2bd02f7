// Package crawler holds the contracts shared by the harvester's network and
// persistence adapters: fetch request/response types, the Fetcher, Clock,
// Hasher and Publisher interfaces, and the retry/pause primitives used when
// the aggregator misbehaves.
package crawler
