package samlresponse

import "encoding/xml"

// Namespace constants used throughout parsing and signature verification.
const (
	NSProtocol  = "urn:oasis:names:tc:SAML:2.0:protocol"
	NSAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"
	NSXMLDSig   = "http://www.w3.org/2000/09/xmldsig#"
	NSXMLEnc    = "http://www.w3.org/2001/04/xmlenc#"
	NSXSI       = "http://www.w3.org/2001/XMLSchema-instance"

	StatusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"
)

// EncryptedElement carries the complete serialized <xenc:EncryptedData>
// element (its own tags included) for one of the three encrypted shapes
// named in spec §4.2. It is always built by serializing an etree
// sub-element, never by xml.Unmarshal — see decrypt.go.
type EncryptedElement struct {
	InnerXML []byte
}

// --- Structural wire shapes -------------------------------------------------
//
// The types below back the lightweight "structure" predicate (spec §4.5
// row 8): encoding/xml.Unmarshal into these shapes stands in for full XSD
// validation against saml-schema-protocol-2.0.xsd, which would require a
// schema-validation library this pack carries nowhere (see DESIGN.md).
// They are read-only sanity checks; no identity data is ever taken from
// them directly — all of that comes from the XPath-driven extraction in
// parser.go over the signed scope (invariant 4, spec §3).

// wireStatusCode is the (possibly nested) <StatusCode> element.
type wireStatusCode struct {
	Value      string          `xml:"Value,attr"`
	StatusCode *wireStatusCode `xml:"StatusCode"`
}

// wireStatus is the <Status> element of a Response.
type wireStatus struct {
	StatusCode    wireStatusCode `xml:"StatusCode"`
	StatusMessage string         `xml:"StatusMessage"`
}

// wireIssuer is the <Issuer> element, present at both the Response and
// Assertion levels.
type wireIssuer struct {
	Value string `xml:",chardata"`
}

// wireAssertion is the minimal shape of a plaintext <Assertion> checked
// for structural sanity.
type wireAssertion struct {
	XMLName xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
	ID      string      `xml:"ID,attr"`
	Version string      `xml:"Version,attr"`
	Issuer  *wireIssuer `xml:"Issuer"`
	Subject *struct {
		NameID *struct {
			Value string `xml:",chardata"`
		} `xml:"NameID"`
	} `xml:"Subject"`
}

// wireResponse is the minimal shape of a <Response> checked for
// structural sanity.
type wireResponse struct {
	XMLName      xml.Name       `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	ID           string         `xml:"ID,attr"`
	InResponseTo string         `xml:"InResponseTo,attr,omitempty"`
	Version      string         `xml:"Version,attr"`
	Destination  string         `xml:"Destination,attr,omitempty"`
	Issuer       *wireIssuer    `xml:"Issuer"`
	Status       wireStatus     `xml:"Status"`
	Assertion    *wireAssertion `xml:"Assertion"`
}

// --- Parsed result shapes ---------------------------------------------------
//
// These are plain data holders populated by parser.go by walking the
// signed scope with etree — not xml.Unmarshal targets.

// NameIDInfo is the subject identifier, whether it arrived plaintext or
// was recovered from an <EncryptedID>.
type NameIDInfo struct {
	Value           string
	Format          string
	NameQualifier   string
	SPNameQualifier string
}

// SubjectConfirmationDataInfo carries the bearer-confirmation
// constraints of one <SubjectConfirmationData>.
type SubjectConfirmationDataInfo struct {
	NotBefore    *RelaxedTime
	NotOnOrAfter *RelaxedTime
	Recipient    string
	InResponseTo string
}

// SubjectConfirmationInfo is one <SubjectConfirmation> child of <Subject>.
type SubjectConfirmationInfo struct {
	Method string
	Data   *SubjectConfirmationDataInfo
}

// ConditionsInfo is the <Conditions> element of an Assertion.
type ConditionsInfo struct {
	NotBefore    *RelaxedTime
	NotOnOrAfter *RelaxedTime
	Audiences    []string
}

// AuthnStatementInfo is the <AuthnStatement> element of an Assertion.
type AuthnStatementInfo struct {
	SessionIndex        string
	SessionNotOnOrAfter *RelaxedTime
}

// AttributeValueInfo is one decoded <AttributeValue>. Nil is true only
// when xsi:nil was "true" or "1"; an empty, non-nil value means the
// element was present but textually empty.
type AttributeValueInfo struct {
	Nil   bool
	Value string
}

// AttributeInfo is one <Attribute> (or decrypted <EncryptedAttribute>)
// within an <AttributeStatement>.
type AttributeInfo struct {
	Name   string
	Values []AttributeValueInfo
}

// Attributes is the map-like accessor surface spec §6 calls for: both
// single-value (Get) and multi-value (All) access by attribute name.
type Attributes struct {
	list []AttributeInfo
	byName map[string][]string
}

func newAttributes(list []AttributeInfo) *Attributes {
	byName := make(map[string][]string, len(list))
	for _, a := range list {
		var vals []string
		for _, v := range a.Values {
			if v.Nil {
				continue
			}
			vals = append(vals, v.Value)
		}
		byName[a.Name] = append(byName[a.Name], vals...)
	}
	return &Attributes{list: list, byName: byName}
}

// Get returns the first value of the named attribute, and whether it was
// present at all.
func (a *Attributes) Get(name string) (string, bool) {
	if a == nil {
		return "", false
	}
	vals, ok := a.byName[name]
	if !ok || len(vals) == 0 {
		return "", ok
	}
	return vals[0], true
}

// All returns every value of the named attribute, and whether it was
// present at all.
func (a *Attributes) All(name string) ([]string, bool) {
	if a == nil {
		return nil, false
	}
	vals, ok := a.byName[name]
	return vals, ok
}

// Names returns every distinct attribute name present, in first-seen
// order.
func (a *Attributes) Names() []string {
	if a == nil {
		return nil
	}
	seen := make(map[string]bool, len(a.list))
	var names []string
	for _, attr := range a.list {
		if !seen[attr.Name] {
			seen[attr.Name] = true
			names = append(names, attr.Name)
		}
	}
	return names
}

// StatusInfo is the Response-level <Status>.
type StatusInfo struct {
	Code    string
	Message string
	Success bool
}

// parsedFields is every field the Response Parser (spec §4.4) extracts
// from the signed scope, computed once and memoized eagerly (spec §9).
type parsedFields struct {
	responseID   string
	inResponseTo string
	destination  string
	version      string
	responseIssuers []string // Response-level + Assertion-level, deduped

	assertionID string
	nameID      *NameIDInfo
	conditions  *ConditionsInfo
	authnStatement *AuthnStatementInfo
	subjectConfirmations []SubjectConfirmationInfo
	attributes  *Attributes

	status StatusInfo

	plaintextAssertionCount  int
	encryptedAssertionCount  int
}
