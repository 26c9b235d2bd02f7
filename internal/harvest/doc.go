// Package harvest mirrors OAI-PMH sets of a journal aggregator into a local
// archive tree. For every record it fetches the OAI metadata, resolves the
// article page, writes normalized Dublin Core documents, downloads the article
// files with checksums and keeps a resumable manifest of what is left to do.
package harvest
