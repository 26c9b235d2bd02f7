package oaipmh

// Set is one entry of the repository's set catalogue.
type Set struct {
	Spec string
	Name string
}

// Header is the OAI record header.
type Header struct {
	Identifier string
	Datestamp  string
	SetSpecs   []string
	Deleted    bool
}

// Field is one metadata element of a record, in document order.
type Field struct {
	// Prefix is the namespace prefix used in the source document, e.g. "dc".
	Prefix string
	// Name is the element's local name, e.g. "title".
	Name string
	// Space is the element's namespace URI.
	Space string
	Value string
}

// Record is a GetRecord result.
type Record struct {
	Header Header
	Fields []Field
	// Raw is the complete response body as served.
	Raw []byte
}

// Metadata returns every value of the named element, in document order.
func (r Record) Metadata(name string) []string {
	var out []string
	for _, f := range r.Fields {
		if f.Name == name {
			out = append(out, f.Value)
		}
	}
	return out
}

// First returns the first value of the named element.
func (r Record) First(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}
