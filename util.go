package samlresponse

import (
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/beevik/etree"
	"github.com/dchest/uniuri"
)

// unmarshalElement serializes el and xml.Unmarshals it into v, used by
// the structure predicate as a lightweight stand-in for full XSD
// validation (see types.go).
func unmarshalElement(el *etree.Element, v any) error {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	b, err := doc.WriteToBytes()
	if err != nil {
		return err
	}
	return xml.Unmarshal(b, v)
}

// firstSet returns the first non-empty string argument, or "".
func firstSet(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newTraceID produces a short, log-friendly correlation id for one
// New()/validate() call, so multiple log lines for the same inbound
// Response can be grep'd together. Not used as a SAML protocol
// identifier (AuthnRequest ID generation is out of scope).
func newTraceID() string {
	return uniuri.NewLen(12)
}

// findChildNS finds the first direct child of el whose namespace URI and
// local tag name match, independent of the prefix the document used.
func findChildNS(el *etree.Element, ns, tag string) *etree.Element {
	if el == nil {
		return nil
	}
	for _, child := range el.ChildElements() {
		if child.Tag == tag && (child.Space == "" || namespaceOf(child) == ns) {
			return child
		}
	}
	return nil
}

// namespaceOf resolves the effective namespace URI of el by walking up
// through xmlns declarations bound to its prefix.
func namespaceOf(el *etree.Element) string {
	if el == nil {
		return ""
	}
	ns := el.NamespaceURI()
	return ns
}

// uriEquivalent implements the spec's "URI-match" comparison used by the
// destination and issuer predicates: normalize scheme+host case,
// default ports, and a single trailing slash, then compare.
func uriEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	na, erra := normalizeURI(a)
	nb, errb := normalizeURI(b)
	if erra != nil || errb != nil {
		return false
	}
	return na == nb
}

func normalizeURI(s string) (string, error) {
	u, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	hostport := host
	if port != "" {
		hostport = host + ":" + port
	}
	path := u.Path
	if path == "" {
		path = "/"
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	out := scheme + "://" + hostport + path
	if u.RawQuery != "" {
		out += "?" + u.RawQuery
	}
	return out, nil
}
