package samlresponse

import (
	"github.com/beevik/etree"
)

// signedScope is the (document, signed_element_id) pair spec §3 defines:
// all identity-bearing extraction is restricted to descendants of the
// element with this ID.
type signedScope struct {
	doc          *etree.Document
	signedID     string
	signedOnResponse bool // true when the Response itself (not the Assertion) is the signed element
}

// resolveSignedScope implements spec §4.3 and documents the open
// question from spec §9 explicitly: signature is verified on the
// original document when a Response-level signature exists; otherwise
// on the decrypted document.
//
// It tries the Response-level signature on origDoc first. If that
// verifies, the Response is the signed element and its single Assertion
// is trusted transitively. Otherwise it tries the Assertion-level
// signature, preferring decryptedDoc when present (the Assertion was
// encrypted) and falling back to origDoc (the Assertion was always
// plaintext). A Response-level signature that is present but fails to
// verify is still reported in the returned errors, even when the
// Assertion-level signature verifies.
func resolveSignedScope(origDoc, decryptedDoc *etree.Document, settings *Settings) (*signedScope, []*fieldError) {
	var errs []*fieldError

	responseEl := origDoc.Root()
	if result := verifySignedElement(responseEl, settings); result.err == nil {
		return &signedScope{doc: origDoc, signedID: responseEl.SelectAttrValue("ID", ""), signedOnResponse: true}, nil
	} else if result.err != ErrMissingSignature {
		errs = append(errs, asFieldError(result.err))
	}

	assertionDoc := origDoc
	if decryptedDoc != nil {
		assertionDoc = decryptedDoc
	}
	assertionEl := findChildNS(assertionDoc.Root(), NSAssertion, "Assertion")
	if assertionEl == nil {
		errs = append(errs, newError(KindStructural, "no Assertion element available to verify a signature on"))
		return nil, errs
	}
	result := verifySignedElement(assertionEl, settings)
	if result.err != nil {
		if result.err != ErrMissingSignature {
			errs = append(errs, asFieldError(result.err))
		} else {
			errs = append(errs, newError(KindSignature, "Invalid Signature on SAML Response: no signature found on Response or Assertion"))
		}
		return nil, errs
	}

	return &signedScope{doc: assertionDoc, signedID: assertionEl.SelectAttrValue("ID", ""), signedOnResponse: false}, errs
}

// unverifiedAssertionScope wraps doc's plaintext Assertion, if any,
// without running any signature check. It exists so Issuer — spec §4.4
// treats it as routing information, not an identity claim — can be read
// from an untrusted probe before Settings (and therefore trust material)
// are known. It returns nil when the Assertion is missing or still
// encrypted, since there is nothing to read without decryption keys.
func unverifiedAssertionScope(doc *etree.Document) *signedScope {
	responseEl := doc.Root()
	if responseEl == nil {
		return nil
	}
	assertionEl := findChildNS(responseEl, NSAssertion, "Assertion")
	if assertionEl == nil {
		return nil
	}
	return &signedScope{doc: doc, signedID: assertionEl.SelectAttrValue("ID", ""), signedOnResponse: false}
}

func asFieldError(err error) *fieldError {
	if fe, ok := err.(*fieldError); ok {
		return fe
	}
	return newError(KindSignature, err.Error())
}

// find looks up the first element matching one of the two XPath shapes
// spec §4.3 describes, rooted at the signed scope:
//   /Response/Assertion[@ID=$id]/<sub>
//   /Response[@ID=$id]/Assertion/<sub>
func (s *signedScope) find(sub string) *etree.Element {
	if s == nil || s.doc == nil {
		return nil
	}
	responseEl := s.doc.Root()
	if responseEl == nil {
		return nil
	}
	assertionEl := findChildNS(responseEl, NSAssertion, "Assertion")
	if assertionEl == nil {
		return nil
	}
	if s.signedOnResponse {
		if responseEl.SelectAttrValue("ID", "") != s.signedID {
			return nil
		}
	} else {
		if assertionEl.SelectAttrValue("ID", "") != s.signedID {
			return nil
		}
	}
	if sub == "" {
		return assertionEl
	}
	return assertionEl.FindElement(sub)
}

// findAll is the findAll-elements counterpart of find.
func (s *signedScope) findAll(sub string) []*etree.Element {
	assertionEl := s.find("")
	if assertionEl == nil {
		return nil
	}
	if sub == "" {
		return []*etree.Element{assertionEl}
	}
	return assertionEl.FindElements(sub)
}

// assertionElement returns the Assertion element of the signed scope, or
// nil when absent.
func (s *signedScope) assertionElement() *etree.Element {
	return s.find("")
}

// responseElement returns the Response (root) element backing the
// signed scope's document.
func (s *signedScope) responseElement() *etree.Element {
	if s == nil || s.doc == nil {
		return nil
	}
	return s.doc.Root()
}
