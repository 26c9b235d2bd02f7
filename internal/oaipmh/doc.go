// Package oaipmh is a minimal OAI-PMH 2.0 harvesting client covering the three
// verbs the harvester needs: ListSets, ListIdentifiers and GetRecord. Responses
// are parsed with xmlquery using local-name() paths so repositories that vary
// their namespace prefixes parse the same way.
package oaipmh
