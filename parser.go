package samlresponse

import (
	"crypto"
	"strings"

	"github.com/beevik/etree"
)

// countAssertions implements spec §4.5 row 5's input: how many plaintext
// and encrypted Assertions sit directly under Response.
func countAssertions(doc *etree.Document) (plaintext, encrypted int) {
	responseEl := doc.Root()
	if responseEl == nil {
		return 0, 0
	}
	for _, child := range responseEl.ChildElements() {
		switch {
		case child.Tag == "Assertion":
			plaintext++
		case child.Tag == "EncryptedAssertion":
			encrypted++
		}
	}
	return plaintext, encrypted
}

// extractResponseFields reads the Response-level fields that spec §3
// says are not identity-bearing (ID, InResponseTo, Destination,
// Version) directly from the outer document — these are read before any
// signature/decryption step even runs, since response_state/version/id
// are the first three predicates.
func extractResponseFields(doc *etree.Document) (id, inResponseTo, destination, version string) {
	responseEl := doc.Root()
	if responseEl == nil {
		return
	}
	id = responseEl.SelectAttrValue("ID", "")
	inResponseTo = responseEl.SelectAttrValue("InResponseTo", "")
	destination = responseEl.SelectAttrValue("Destination", "")
	version = responseEl.SelectAttrValue("Version", "")
	return
}

// extractStatus reads <Status> from the outer Response document,
// joining nested StatusCodes with " | " per spec §4.4.
func extractStatus(doc *etree.Document) StatusInfo {
	responseEl := doc.Root()
	if responseEl == nil {
		return StatusInfo{}
	}
	statusEl := findChildNS(responseEl, NSProtocol, "Status")
	if statusEl == nil {
		return StatusInfo{}
	}
	codeEl := findChildNS(statusEl, NSProtocol, "StatusCode")
	msgEl := findChildNS(statusEl, NSProtocol, "StatusMessage")

	info := StatusInfo{}
	if msgEl != nil {
		info.Message = strings.TrimSpace(msgEl.Text())
	}
	if codeEl == nil {
		return info
	}
	top := codeEl.SelectAttrValue("Value", "")
	info.Success = top == StatusSuccess
	if info.Success {
		info.Code = top
		return info
	}
	parts := []string{top}
	for inner := findChildNS(codeEl, NSProtocol, "StatusCode"); inner != nil; inner = findChildNS(inner, NSProtocol, "StatusCode") {
		parts = append(parts, inner.SelectAttrValue("Value", ""))
	}
	info.Code = strings.Join(parts, " | ")
	return info
}

// extractIssuers implements spec §4.4 "issuers": the union of the
// Response-level and Assertion-level <Issuer> texts, deduplicated. Each
// level must carry exactly one Issuer or this is a structural error; the
// Assertion level is only checked when scope is non-nil (a nil scope
// means no plaintext Assertion is available to read).
func extractIssuers(doc *etree.Document, scope *signedScope) ([]string, *fieldError) {
	responseEl := doc.Root()
	var responseIssuers []*etree.Element
	if responseEl != nil {
		responseIssuers = filterChildrenNS(responseEl, NSAssertion, "Issuer")
	}
	if len(responseIssuers) != 1 {
		return nil, newError(KindStructural, "Issuer of the Response not found or multiple")
	}

	var assertionIssuers []*etree.Element
	if scope != nil {
		if assertionEl := scope.assertionElement(); assertionEl != nil {
			assertionIssuers = filterChildrenNS(assertionEl, NSAssertion, "Issuer")
		}
		if len(assertionIssuers) != 1 {
			return nil, newError(KindStructural, "Issuer of the Assertion not found or multiple")
		}
	}

	seen := make(map[string]bool, 2)
	var out []string
	for _, el := range append(responseIssuers, assertionIssuers...) {
		v := strings.TrimSpace(el.Text())
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out, nil
}

func filterChildrenNS(el *etree.Element, ns, tag string) []*etree.Element {
	var out []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == tag {
			out = append(out, child)
		}
	}
	return out
}

// extractNameID implements spec §4.4 "NameID": prefer
// Subject/EncryptedID (decrypt first) over Subject/NameID.
func extractNameID(scope *signedScope, keys []crypto.Decrypter) (*NameIDInfo, *fieldError) {
	subjectEl := scope.find("Subject")
	if subjectEl == nil {
		return nil, nil
	}

	if encIDEl := findChildNS(subjectEl, NSAssertion, "EncryptedID"); encIDEl != nil {
		raw, err := serializeEncryptedData(encIDEl)
		if err != nil {
			return nil, newError(KindEncryption, err.Error())
		}
		nameIDEl, derr := decryptElement(raw, keys, kindNameID)
		if derr != nil {
			return nil, derr.(*fieldError)
		}
		return nameIDFromElement(nameIDEl), nil
	}

	if nameIDEl := findChildNS(subjectEl, NSAssertion, "NameID"); nameIDEl != nil {
		return nameIDFromElement(nameIDEl), nil
	}
	return nil, nil
}

func nameIDFromElement(el *etree.Element) *NameIDInfo {
	return &NameIDInfo{
		Value:           strings.TrimSpace(el.Text()),
		Format:          el.SelectAttrValue("Format", ""),
		NameQualifier:   el.SelectAttrValue("NameQualifier", ""),
		SPNameQualifier: el.SelectAttrValue("SPNameQualifier", ""),
	}
}

// serializeEncryptedData finds the <xenc:EncryptedData> child of parent
// (an EncryptedID/EncryptedAssertion/EncryptedAttribute element) and
// serializes it, tags included, for decryptElement.
func serializeEncryptedData(parent *etree.Element) (*EncryptedElement, error) {
	dataEl := findChildNS(parent, NSXMLEnc, "EncryptedData")
	if dataEl == nil {
		return nil, newError(KindEncryption, "EncryptedData element not found")
	}
	doc := etree.NewDocument()
	doc.SetRoot(dataEl.Copy())
	b, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	return &EncryptedElement{InnerXML: b}, nil
}

// extractConditions implements spec §4.4 "audiences" and the NotBefore /
// NotOnOrAfter pair.
func extractConditions(scope *signedScope) (*ConditionsInfo, int) {
	conditionsEls := scope.findAll("Conditions")
	if len(conditionsEls) == 0 {
		return nil, 0
	}
	el := conditionsEls[0]
	info := &ConditionsInfo{}
	if v := el.SelectAttrValue("NotBefore", ""); v != "" {
		if t, err := ParseRelaxedTime(v); err == nil {
			info.NotBefore = &RelaxedTime{Time: t}
		}
	}
	if v := el.SelectAttrValue("NotOnOrAfter", ""); v != "" {
		if t, err := ParseRelaxedTime(v); err == nil {
			info.NotOnOrAfter = &RelaxedTime{Time: t}
		}
	}
	for _, restriction := range el.FindElements("AudienceRestriction") {
		for _, aud := range restriction.FindElements("Audience") {
			v := strings.TrimSpace(aud.Text())
			if v != "" {
				info.Audiences = append(info.Audiences, v)
			}
		}
	}
	return info, len(conditionsEls)
}

// extractAuthnStatement returns the first <AuthnStatement> and the total
// count found, so validate.go can enforce "exactly one".
func extractAuthnStatement(scope *signedScope) (*AuthnStatementInfo, int) {
	els := scope.findAll("AuthnStatement")
	if len(els) == 0 {
		return nil, 0
	}
	el := els[0]
	info := &AuthnStatementInfo{
		SessionIndex: el.SelectAttrValue("SessionIndex", ""),
	}
	if v := el.SelectAttrValue("SessionNotOnOrAfter", ""); v != "" {
		if t, err := ParseRelaxedTime(v); err == nil {
			info.SessionNotOnOrAfter = &RelaxedTime{Time: t}
		}
	}
	return info, len(els)
}

// extractSubjectConfirmations implements spec §4.4's Subject/
// SubjectConfirmation[*] extraction.
func extractSubjectConfirmations(scope *signedScope) []SubjectConfirmationInfo {
	subjectEl := scope.find("Subject")
	if subjectEl == nil {
		return nil
	}
	var out []SubjectConfirmationInfo
	for _, scEl := range subjectEl.FindElements("SubjectConfirmation") {
		info := SubjectConfirmationInfo{Method: scEl.SelectAttrValue("Method", "")}
		if dataEl := scEl.FindElement("SubjectConfirmationData"); dataEl != nil {
			data := &SubjectConfirmationDataInfo{
				Recipient:    dataEl.SelectAttrValue("Recipient", ""),
				InResponseTo: dataEl.SelectAttrValue("InResponseTo", ""),
			}
			if v := dataEl.SelectAttrValue("NotBefore", ""); v != "" {
				if t, err := ParseRelaxedTime(v); err == nil {
					data.NotBefore = &RelaxedTime{Time: t}
				}
			}
			if v := dataEl.SelectAttrValue("NotOnOrAfter", ""); v != "" {
				if t, err := ParseRelaxedTime(v); err == nil {
					data.NotOnOrAfter = &RelaxedTime{Time: t}
				}
			}
			info.Data = data
		}
		out = append(out, info)
	}
	return out
}

// extractAttributes implements spec §4.4 "attributes", including
// in-place decryption of <EncryptedAttribute> and the xsi:nil boundary
// rule from spec §8.
func extractAttributes(scope *signedScope, keys []crypto.Decrypter) (*Attributes, *fieldError) {
	var list []AttributeInfo
	for _, stmtEl := range scope.findAll("AttributeStatement") {
		for _, attrEl := range stmtEl.FindElements("Attribute") {
			list = append(list, attributeFromElement(attrEl))
		}
		for _, encAttrEl := range stmtEl.FindElements("EncryptedAttribute") {
			raw, err := serializeEncryptedData(encAttrEl)
			if err != nil {
				return nil, newError(KindEncryption, err.Error())
			}
			plainEl, derr := decryptElement(raw, keys, kindAttribute)
			if derr != nil {
				return nil, derr.(*fieldError)
			}
			list = append(list, attributeFromElement(plainEl))
		}
	}
	return newAttributes(list), nil
}

func attributeFromElement(attrEl *etree.Element) AttributeInfo {
	info := AttributeInfo{Name: attrEl.SelectAttrValue("Name", "")}
	for _, valEl := range attrEl.FindElements("AttributeValue") {
		info.Values = append(info.Values, attributeValueFromElement(valEl))
	}
	return info
}

func attributeValueFromElement(valEl *etree.Element) AttributeValueInfo {
	nilAttr := valEl.SelectAttrValue("nil", "")
	if nilAttr == "" {
		// some IdPs emit the xsi-prefixed attribute without etree
		// resolving the namespace-qualified lookup above.
		for _, a := range valEl.Attr {
			if a.Key == "nil" {
				nilAttr = a.Value
			}
		}
	}
	if nilAttr == "true" || nilAttr == "1" {
		return AttributeValueInfo{Nil: true}
	}

	if nameIDs := valEl.FindElements("NameID"); len(nameIDs) > 0 {
		// NameID-valued attribute: {NameQualifier + "/" if present}{text}
		nameID := nameIDs[0]
		text := strings.TrimSpace(nameID.Text())
		if q := nameID.SelectAttrValue("NameQualifier", ""); q != "" {
			text = q + "/" + text
		}
		return AttributeValueInfo{Value: text}
	}

	return AttributeValueInfo{Value: strings.TrimSpace(valEl.Text())}
}

// duplicateAttributeNames returns the set of Attribute Name values that
// appear more than once, for the no_duplicated_attributes predicate.
func duplicateAttributeNames(attrs *Attributes) []string {
	if attrs == nil {
		return nil
	}
	counts := make(map[string]int, len(attrs.list))
	for _, a := range attrs.list {
		counts[a.Name]++
	}
	var dupes []string
	for name, n := range counts {
		if n > 1 {
			dupes = append(dupes, name)
		}
	}
	return dupes
}
