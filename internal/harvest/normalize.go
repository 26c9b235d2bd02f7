package harvest

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/JakeFAU/journal-harvester/internal/oaipmh"
)

// Namespaces of the written documents.
const (
	NamespaceDC      = "http://purl.org/dc/elements/1.1/"
	NamespaceDCTerms = "http://purl.org/dc/terms/"
	NamespaceXSI     = "http://www.w3.org/2001/XMLSchema-instance"
)

// HarvestDateLayout formats harvestDate in harvest.xml.
const HarvestDateLayout = "2006-01-02 15:04:05"

// MandatoryFields must be present in every dc.xml.
var MandatoryFields = []string{"title", "creator", "publisher", "date"}

// ArticleInput is everything the three output documents are built from.
type ArticleInput struct {
	Identifier string
	Datestamp  string
	Fields     []oaipmh.Field
	Target     string
	ArticleURL string
	License    string
	ISSN       string

	BaseURL          string
	ToolName         string
	Version          string
	Group            string
	CollectionPrefix string
	HarvestedAt      time.Time
	RunID            string
}

// Outputs holds the serialized documents of one record.
type Outputs struct {
	DC         []byte
	Collection []byte
	Harvest    []byte
}

type element struct {
	XMLName xml.Name
	Type    string `xml:"xsi:type,attr,omitempty"`
	Value   string `xml:",chardata"`
}

func dcElement(name, value string) element {
	return element{XMLName: xml.Name{Local: "dc:" + name}, Value: value}
}

func termsElement(name, value string) element {
	return element{XMLName: xml.Name{Local: "dcterms:" + name}, Value: value}
}

func issnElement(issn string) element {
	e := dcElement("identifier", issn)
	e.Type = "dcterms:ISSN"
	return e
}

type dcDocument struct {
	XMLName  xml.Name   `xml:"record"`
	Attrs    []xml.Attr `xml:",any,attr"`
	Elements []element
}

type collectionsDocument struct {
	XMLName    xml.Name   `xml:"collections"`
	Attrs      []xml.Attr `xml:",any,attr"`
	Collection struct {
		Elements []element
	} `xml:"collection"`
}

type harvestDocument struct {
	XMLName          xml.Name `xml:"harvest"`
	PrimarySeedURL   string   `xml:"primarySeedURL"`
	SourceURL        string   `xml:"sourceURL"`
	WCTIdentifier    string   `xml:"WCTIdentifier"`
	TargetName       string   `xml:"targetName"`
	ObjectIdentifier string   `xml:"objectIdentifier"`
	Group            string   `xml:"group"`
	HarvestDate      string   `xml:"harvestDate"`
	RunID            string   `xml:"runID,omitempty"`
}

// BuildOutputs builds dc.xml, collection.xml and harvest.xml for one record
// and reports which mandatory Dublin Core fields the record lacks. in is not
// modified.
func BuildOutputs(in ArticleInput) (Outputs, []string, error) {
	dc, present, namespaces := buildDC(in)

	var missing []string
	for _, name := range MandatoryFields {
		if _, ok := present[name]; !ok {
			missing = append(missing, name)
		}
	}

	dcXML, err := marshal(dcDocument{Attrs: nsAttrs(namespaces), Elements: dc})
	if err != nil {
		return Outputs{}, missing, fmt.Errorf("build dc.xml: %w", err)
	}

	coll := collectionsDocument{Attrs: nsAttrs(map[string]string{
		"xsi": NamespaceXSI, "dc": NamespaceDC, "dcterms": NamespaceDCTerms,
	})}
	coll.Collection.Elements = []element{
		termsElement("isPartOf", in.CollectionPrefix+"/"+present["publisher"]),
		dcElement("title", present["date"]),
		issnElement(in.ISSN),
	}
	collXML, err := marshal(coll)
	if err != nil {
		return Outputs{}, missing, fmt.Errorf("build collection.xml: %w", err)
	}

	harvestXML, err := marshal(harvestDocument{
		PrimarySeedURL:   in.BaseURL,
		SourceURL:        in.ArticleURL,
		WCTIdentifier:    fmt.Sprintf("%s/ Version: %s", in.ToolName, in.Version),
		TargetName:       in.Target,
		ObjectIdentifier: in.Identifier,
		Group:            in.Group,
		HarvestDate:      in.HarvestedAt.Format(HarvestDateLayout),
		RunID:            in.RunID,
	})
	if err != nil {
		return Outputs{}, missing, fmt.Errorf("build harvest.xml: %w", err)
	}

	return Outputs{DC: dcXML, Collection: collXML, Harvest: harvestXML}, missing, nil
}

// buildDC copies the record's Dublin Core elements, rewrites the DOI, drops
// rights and appends the dcterms additions. present maps each copied element
// name to its first value.
func buildDC(in ArticleInput) ([]element, map[string]string, map[string]string) {
	namespaces := map[string]string{"dc": NamespaceDC, "dcterms": NamespaceDCTerms, "xsi": NamespaceXSI}
	present := make(map[string]string)
	out := make([]element, 0, len(in.Fields)+4)
	doiDone := false

	for _, f := range in.Fields {
		if f.Space != "" && f.Space != NamespaceDC {
			continue
		}
		if f.Name == "rights" {
			continue
		}
		value := f.Value
		if f.Name == "identifier" && !doiDone {
			value = DOILabel(value)
			doiDone = true
		}
		prefix := f.Prefix
		if prefix == "" {
			prefix = "dc"
		}
		if prefix != "dc" {
			namespaces[prefix] = NamespaceDC
		}
		out = append(out, element{XMLName: xml.Name{Local: prefix + ":" + f.Name}, Value: value})
		if _, ok := present[f.Name]; !ok {
			present[f.Name] = value
		}
	}

	out = append(out,
		termsElement("isPartOf", present["publisher"]+"/"+present["date"]),
		termsElement("accessRights", in.License),
		termsElement("issued", in.Datestamp),
		issnElement(in.ISSN),
	)
	return out, present, namespaces
}

// DOILabel rewrites a DOI URL to "DOI: <doi>"; values without a doi.org host
// segment are returned unchanged.
func DOILabel(value string) string {
	_, doi, ok := strings.Cut(value, "doi.org/")
	if !ok {
		return value
	}
	return "DOI: " + doi
}

func nsAttrs(namespaces map[string]string) []xml.Attr {
	prefixes := make([]string, 0, len(namespaces))
	for p := range namespaces {
		prefixes = append(prefixes, p)
	}
	sort.Strings(prefixes)
	attrs := make([]xml.Attr, 0, len(prefixes))
	for _, p := range prefixes {
		attrs = append(attrs, xml.Attr{Name: xml.Name{Local: "xmlns:" + p}, Value: namespaces[p]})
	}
	return attrs
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
