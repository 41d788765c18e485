package samlresponse

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// engine runs the fixed-order predicate sequence of spec §4.5 against an
// already-constructed Response and its memoized parsedFields. It never
// mutates the Response; New() has already done all the parsing work.
type engine struct {
	r *Response
}

// validate runs every predicate. When collectErrors is false it stops at
// the first failure (short-circuit mode); when true it runs all 19 and
// accumulates every failure (spec §4.5 "collect-errors mode").
func (e *engine) validate(collectErrors bool) []*fieldError {
	var errs []*fieldError
	fail := func(err *fieldError) bool {
		errs = append(errs, err)
		return !collectErrors // true means "stop now"
	}

	r := e.r
	if err := e.responseState(); err != nil {
		errs = append(errs, err)
		// A blank response never reached build(), so r.fields is nil; a
		// nil Settings means build() bailed out after recording that one
		// error. Either way no further predicate can run without risking
		// a nil dereference, so these always short-circuit regardless of
		// collectErrors.
		if r.fields == nil || r.settings == nil {
			return errs
		}
		if !collectErrors {
			return errs
		}
	}

	settings := r.settings
	opts := r.opts

	if err := e.version(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if err := e.id(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if err := e.successStatus(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if err := e.numAssertion(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if opts.CheckDuplicatedAttributes {
		if err := e.noDuplicatedAttributes(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if err := e.signedElements(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if err := e.structure(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if opts.MatchesRequestID != nil {
		if err := e.inResponseTo(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if !opts.SkipConditionsValidation {
		if err := e.oneConditions(); err != nil {
			if fail(err) {
				return errs
			}
		}
		if err := e.conditions(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if !opts.SkipAuthnStatementValidation {
		if err := e.oneAuthnStatement(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if !opts.SkipAudienceValidation && settings.SPEntityID != "" {
		if err := e.audience(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if !opts.SkipDestinationValidation {
		if err := e.destination(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if settings.IDPEntityID != "" {
		if err := e.issuer(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if err := e.sessionExpiration(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if !opts.SkipSubjectConfirmationValidation {
		if err := e.subjectConfirmation(); err != nil {
			if fail(err) {
				return errs
			}
		}
	}
	if err := e.nameID(); err != nil {
		if fail(err) {
			return errs
		}
	}
	if err := e.signature(); err != nil {
		if fail(err) {
			return errs
		}
	}

	return errs
}

// 1. response_state
func (e *engine) responseState() *fieldError {
	if e.r.raw == "" {
		return newError(KindMalformedInput, "Blank response")
	}
	if e.r.settings == nil {
		return newError(KindConfiguration, "Invalid settings: settings is required")
	}
	if !e.r.settings.HasTrustAnchor() {
		return newError(KindConfiguration, "Invalid settings: idp_cert_fingerprint or idp_cert or idp_cert_multi is required")
	}
	return nil
}

// 2. version
func (e *engine) version() *fieldError {
	if e.r.fields.version != "2.0" {
		return newError(KindStructural, fmt.Sprintf("Unsupported SAML version: %q", e.r.fields.version))
	}
	return nil
}

// 3. id
func (e *engine) id() *fieldError {
	if e.r.fields.responseID == "" {
		return newError(KindStructural, "Missing ID attribute on SAML Response")
	}
	return nil
}

// 4. success_status
func (e *engine) successStatus() *fieldError {
	status := e.r.fields.status
	if status.Success {
		return nil
	}
	msg := fmt.Sprintf("The status code of the Response was not Success, was %s", status.Code)
	if status.Message != "" {
		msg += fmt.Sprintf(" -> %s", status.Message)
	}
	return newError(KindProfile, msg)
}

// 5. num_assertion
func (e *engine) numAssertion() *fieldError {
	f := e.r.fields
	if f.plaintextAssertionCount+f.encryptedAssertionCount != 1 {
		return newError(KindStructural, fmt.Sprintf("SAML Response must contain 1 assertion, found %d", f.plaintextAssertionCount+f.encryptedAssertionCount))
	}
	if e.r.decryptedDoc != nil {
		plain, _ := countAssertions(e.r.decryptedDoc)
		if plain != 1 {
			return newError(KindStructural, fmt.Sprintf("SAML Response must contain 1 assertion after decryption, found %d", plain))
		}
	}
	return nil
}

// 6. no_duplicated_attributes
func (e *engine) noDuplicatedAttributes() *fieldError {
	if e.r.scope == nil {
		return nil
	}
	attrs, derr := extractAttributes(e.r.scope, e.r.settings.SPDecryptionKeys)
	if derr != nil {
		return derr.(*fieldError)
	}
	if dupes := duplicateAttributeNames(attrs); len(dupes) > 0 {
		return newError(KindProfile, fmt.Sprintf("Found an Attribute element with duplicated Name: %s", strings.Join(dupes, ", ")))
	}
	return nil
}

// 7. signed_elements
func (e *engine) signedElements() *fieldError {
	var sigParents []*etree.Element
	responseEl := e.r.origDoc.Root()
	if sigEl := findChildNS(responseEl, NSXMLDSig, "Signature"); sigEl != nil {
		sigParents = append(sigParents, responseEl)
	}
	assertionDoc := e.r.origDoc
	if e.r.decryptedDoc != nil {
		assertionDoc = e.r.decryptedDoc
	}
	if assertionEl := findChildNS(assertionDoc.Root(), NSAssertion, "Assertion"); assertionEl != nil {
		if sigEl := findChildNS(assertionEl, NSXMLDSig, "Signature"); sigEl != nil {
			sigParents = append(sigParents, assertionEl)
		}
	}

	if len(sigParents) == 0 {
		return newError(KindSignature, "Could not validate the signature of the Response because the Response is not signed")
	}
	if len(sigParents) > 2 {
		return newError(KindSignature, fmt.Sprintf("Found %d signatures, expected 1 or 2", len(sigParents)))
	}

	seenIDs := map[string]bool{}
	seenURIs := map[string]bool{}
	assertionSigned := false
	for _, parent := range sigParents {
		id := parent.SelectAttrValue("ID", "")
		if id == "" {
			return newError(KindSignature, "Found a signed element without an ID attribute")
		}
		if seenIDs[id] {
			return newError(KindSignature, fmt.Sprintf("Duplicate signed element ID %q", id))
		}
		seenIDs[id] = true

		sigEl := findChildNS(parent, NSXMLDSig, "Signature")
		refEl := sigEl.FindElement(".//Reference")
		if refEl == nil {
			return newError(KindSignature, "Signature has no Reference element")
		}
		uri := refEl.SelectAttrValue("URI", "")
		if uri == "" {
			return newError(KindSignature, "Signature Reference URI is empty")
		}
		if seenURIs[uri] {
			return newError(KindSignature, fmt.Sprintf("Duplicate signature Reference URI %q", uri))
		}
		seenURIs[uri] = true
		if strings.TrimPrefix(uri, "#") != id {
			return newError(KindSignature, fmt.Sprintf("Signature Reference URI %q does not match parent ID %q", uri, id))
		}

		if parent.Tag == "Assertion" {
			assertionSigned = true
		}
	}

	if e.r.settings.WantAssertionsSigned && !assertionSigned {
		return newError(KindSignature, "The Assertion of the Response is not signed and the SP requires it")
	}
	return nil
}

// 8. structure
func (e *engine) structure() *fieldError {
	var resp wireResponse
	if err := unmarshalElement(e.r.origDoc.Root(), &resp); err != nil {
		return newError(KindStructural, fmt.Sprintf("Invalid SAML Response structure: %s", err))
	}
	if e.r.decryptedDoc != nil {
		var decResp wireResponse
		if err := unmarshalElement(e.r.decryptedDoc.Root(), &decResp); err != nil {
			return newError(KindStructural, fmt.Sprintf("Invalid decrypted SAML Response structure: %s", err))
		}
	}
	return nil
}

// 9. in_response_to
func (e *engine) inResponseTo() *fieldError {
	want := *e.r.opts.MatchesRequestID
	got := e.r.fields.inResponseTo
	if got != want {
		return newError(KindProfile, fmt.Sprintf("The InResponseTo of the Response: %s, does not match the ID of the AuthNRequest sent: %s", got, want))
	}
	return nil
}

// 10. one_conditions
func (e *engine) oneConditions() *fieldError {
	if e.r.conditionsCount != 1 {
		return newError(KindStructural, fmt.Sprintf("The Assertion must include exactly one Conditions element, found %d", e.r.conditionsCount))
	}
	return nil
}

// 11. conditions
func (e *engine) conditions() *fieldError {
	c := e.r.fields.conditions
	if c == nil {
		return nil
	}
	now := TimeNow()
	drift := e.r.opts.drift()
	if c.NotBefore != nil && now.Before(c.NotBefore.Time.Add(-drift)) {
		return newError(KindProfile, fmt.Sprintf("Could not validate timestamp: not yet valid. Current time is %s, NotBefore is %s", now.Format(timeFmt), c.NotBefore.Time.Format(timeFmt)))
	}
	if c.NotOnOrAfter != nil && !now.Before(c.NotOnOrAfter.Time.Add(drift)) {
		return newError(KindProfile, fmt.Sprintf("Current time is on or after NotOnOrAfter condition (%s >= %s)", now.Format(timeFmt), c.NotOnOrAfter.Time.Format(timeFmt)))
	}
	return nil
}

// 12. one_authnstatement
func (e *engine) oneAuthnStatement() *fieldError {
	if e.r.authnStatementCount != 1 {
		return newError(KindStructural, fmt.Sprintf("The Assertion must include exactly one AuthnStatement, found %d", e.r.authnStatementCount))
	}
	return nil
}

// 13. audience
func (e *engine) audience() *fieldError {
	c := e.r.fields.conditions
	var audiences []string
	if c != nil {
		audiences = c.Audiences
	}
	if len(audiences) == 0 {
		if e.r.settings.StrictAudienceValidation {
			return newError(KindProfile, "No Audience found in the Assertion and strict audience validation is enabled")
		}
		return nil
	}
	for _, a := range audiences {
		if a == e.r.settings.SPEntityID {
			return nil
		}
	}
	return newError(KindProfile, fmt.Sprintf("Invalid Audiences. The audiences %s, did not match the expected audience %s", strings.Join(audiences, ","), e.r.settings.SPEntityID))
}

// 14. destination
func (e *engine) destination() *fieldError {
	dest := e.r.fields.destination
	if dest == "" {
		// spec §9 open question: absence is silently accepted today.
		return nil
	}
	if e.r.settings.AssertionConsumerServiceURL != "" && !uriEquivalent(dest, e.r.settings.AssertionConsumerServiceURL) {
		return newError(KindProfile, fmt.Sprintf("The response was received at %s instead of expected %s", dest, e.r.settings.AssertionConsumerServiceURL))
	}
	return nil
}

// 15. issuer
func (e *engine) issuer() *fieldError {
	for _, iss := range e.r.fields.responseIssuers {
		if !uriEquivalent(iss, e.r.settings.IDPEntityID) {
			return newError(KindProfile, fmt.Sprintf("Invalid issuer in the Assertion/Response (expected %q, got %q)", e.r.settings.IDPEntityID, iss))
		}
	}
	return nil
}

// 16. session_expiration
func (e *engine) sessionExpiration() *fieldError {
	a := e.r.fields.authnStatement
	if a == nil || a.SessionNotOnOrAfter == nil {
		return nil
	}
	now := TimeNow()
	drift := e.r.opts.drift()
	if !now.Before(a.SessionNotOnOrAfter.Time.Add(drift)) {
		return newError(KindProfile, fmt.Sprintf("The attributes have expired, based on the SessionNotOnOrAfter of the AuthnStatement of this Response (%s)", a.SessionNotOnOrAfter.Time.Format(timeFmt)))
	}
	return nil
}

// 17. subject_confirmation
func (e *engine) subjectConfirmation() *fieldError {
	confirmations := e.r.fields.subjectConfirmations
	if len(confirmations) == 0 {
		return newError(KindProfile, "No SubjectConfirmation found in the Assertion")
	}
	now := TimeNow()
	drift := e.r.opts.drift()

	var lastReason string
	for _, sc := range confirmations {
		if sc.Method != "" && sc.Method != "urn:oasis:names:tc:SAML:2.0:cm:bearer" {
			lastReason = fmt.Sprintf("SubjectConfirmation Method %q is not bearer", sc.Method)
			continue
		}
		data := sc.Data
		if data == nil {
			lastReason = "SubjectConfirmationData is missing"
			continue
		}
		if data.InResponseTo != "" && data.InResponseTo != e.r.fields.inResponseTo {
			lastReason = fmt.Sprintf("SubjectConfirmationData InResponseTo %q does not match Response InResponseTo %q", data.InResponseTo, e.r.fields.inResponseTo)
			continue
		}
		if data.NotBefore != nil && now.Before(data.NotBefore.Time.Add(-drift)) {
			lastReason = "SubjectConfirmationData is not yet valid"
			continue
		}
		if data.NotOnOrAfter != nil && !now.Before(data.NotOnOrAfter.Time.Add(drift)) {
			lastReason = "SubjectConfirmationData has expired"
			continue
		}
		if !e.r.opts.SkipRecipientValidation && data.Recipient != "" && e.r.settings.AssertionConsumerServiceURL != "" {
			if !uriEquivalent(data.Recipient, e.r.settings.AssertionConsumerServiceURL) {
				lastReason = fmt.Sprintf("SubjectConfirmationData Recipient %q does not match ACS URL %q", data.Recipient, e.r.settings.AssertionConsumerServiceURL)
				continue
			}
		}
		return nil
	}
	if lastReason == "" {
		lastReason = "no SubjectConfirmation satisfied the bearer profile constraints"
	}
	return newError(KindProfile, fmt.Sprintf("A valid SubjectConfirmation was not found: %s", lastReason))
}

// 18. name_id
func (e *engine) nameID() *fieldError {
	n := e.r.fields.nameID
	if n == nil {
		if e.r.settings.WantNameID {
			return newError(KindProfile, "Could not find NameID in the Assertion and the SP requires it")
		}
		return nil
	}
	if n.Value == "" {
		return newError(KindProfile, "An empty NameID value is not allowed")
	}
	if n.SPNameQualifier != "" && e.r.settings.SPEntityID != "" && n.SPNameQualifier != e.r.settings.SPEntityID {
		return newError(KindProfile, fmt.Sprintf("The SPNameQualifier value mismatch: %q != %q", n.SPNameQualifier, e.r.settings.SPEntityID))
	}
	return nil
}

// 19. signature
func (e *engine) signature() *fieldError {
	if e.r.scope == nil {
		return newError(KindSignature, "Invalid Signature on SAML Response")
	}
	return nil
}

const timeFmt = "2006-01-02T15:04:05Z"
