package oaipmh

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/antchfx/xmlquery"
)

func parseDocument(verb string, body []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformed, verb, err)
	}
	if xmlquery.FindOne(doc, "/*[local-name()='OAI-PMH']") == nil {
		return nil, fmt.Errorf("%w: %s: missing OAI-PMH root", ErrMalformed, verb)
	}
	if n := xmlquery.FindOne(doc, "//*[local-name()='error']"); n != nil {
		return nil, &Error{
			Verb:    verb,
			Code:    n.SelectAttr("code"),
			Message: strings.TrimSpace(n.InnerText()),
		}
	}
	return doc, nil
}

func childText(n *xmlquery.Node, local string) string {
	if c := xmlquery.FindOne(n, "./*[local-name()='"+local+"']"); c != nil {
		return strings.TrimSpace(c.InnerText())
	}
	return ""
}

func resumptionToken(doc *xmlquery.Node) string {
	if n := xmlquery.FindOne(doc, "//*[local-name()='resumptionToken']"); n != nil {
		return strings.TrimSpace(n.InnerText())
	}
	return ""
}

func parseHeader(n *xmlquery.Node) Header {
	h := Header{
		Identifier: childText(n, "identifier"),
		Datestamp:  childText(n, "datestamp"),
		Deleted:    n.SelectAttr("status") == "deleted",
	}
	for _, s := range xmlquery.Find(n, "./*[local-name()='setSpec']") {
		h.SetSpecs = append(h.SetSpecs, strings.TrimSpace(s.InnerText()))
	}
	return h
}

func parseSets(doc *xmlquery.Node) []Set {
	nodes := xmlquery.Find(doc, "//*[local-name()='ListSets']/*[local-name()='set']")
	sets := make([]Set, 0, len(nodes))
	for _, n := range nodes {
		sets = append(sets, Set{Spec: childText(n, "setSpec"), Name: childText(n, "setName")})
	}
	return sets
}

func parseIdentifiers(doc *xmlquery.Node) []string {
	nodes := xmlquery.Find(doc, "//*[local-name()='ListIdentifiers']/*[local-name()='header']")
	ids := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if id := childText(n, "identifier"); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func parseRecord(doc *xmlquery.Node, raw []byte) (Record, error) {
	rec := xmlquery.FindOne(doc, "//*[local-name()='GetRecord']/*[local-name()='record']")
	if rec == nil {
		return Record{}, fmt.Errorf("%w: GetRecord: missing record", ErrMalformed)
	}
	header := xmlquery.FindOne(rec, "./*[local-name()='header']")
	if header == nil {
		return Record{}, fmt.Errorf("%w: GetRecord: missing header", ErrMalformed)
	}
	out := Record{Header: parseHeader(header), Raw: raw}

	// The metadata element wraps a single container (oai_dc:dc) whose children
	// are the Dublin Core elements.
	container := xmlquery.FindOne(rec, "./*[local-name()='metadata']/*")
	if container == nil {
		return out, nil
	}
	for c := container.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != xmlquery.ElementNode {
			continue
		}
		out.Fields = append(out.Fields, Field{
			Prefix: c.Prefix,
			Name:   c.Data,
			Space:  c.NamespaceURI,
			Value:  strings.TrimSpace(c.InnerText()),
		})
	}
	return out, nil
}
