package samlresponse

import (
	"bytes"
	"crypto"
	"fmt"
	"regexp"

	"github.com/beevik/etree"
	"github.com/crewjam/saml/xmlenc"

	"github.com/insaplace/samlresponse/logger"
)

// elementKind identifies which of the three XML-Enc shapes spec §4.2
// names is being decrypted, since each needs a different namespace
// wrapper and closing-tag pattern.
type elementKind int

const (
	kindAssertion elementKind = iota
	kindNameID
	kindAttribute
)

func (k elementKind) tagName() string {
	switch k {
	case kindNameID:
		return "NameID"
	case kindAttribute:
		return "Attribute"
	default:
		return "Assertion"
	}
}

// closingTagPattern matches the document up to and including the closing
// tag of the expected element, anchored so that stray trailing bytes a
// decrypt cipher can leave behind (see below) are discarded rather than
// fed to the XML parser.
//
// xmlenc.Decrypt already strips PKCS7/GCM padding itself, but some IdPs'
// XML-Enc implementations still emit a few bytes of slack after the
// logical plaintext ends; this single regular expression, anchored on
// the last "</Tag>" (with an optional prefix), tolerates that noise
// without reaching for a general-purpose XML repair pass.
func closingTagPattern(tag string) *regexp.Regexp {
	return regexp.MustCompile(`(?s)^.*</(?:\w+:)?` + regexp.QuoteMeta(tag) + `>`)
}

// decryptElement implements spec §4.2: try each SP key in order against
// the EncryptedKey, decrypt the bulk CipherValue with the recovered
// symmetric key, extract the plaintext fragment, and parse it as the
// expected element kind. The RSA key-transport unwrap and AES-CBC/GCM
// bulk decrypt are both delegated to xmlenc, which implements the
// XML-Enc CipherData/EncryptionMethod dispatch this module would
// otherwise have to reimplement by hand.
func decryptElement(enc *EncryptedElement, keys []crypto.Decrypter, kind elementKind) (*etree.Element, error) {
	if enc == nil {
		return nil, newError(KindEncryption, "no EncryptedData present")
	}
	if len(keys) == 0 {
		return nil, newError(KindEncryption, "decryption_key_missing: no sp_decryption_keys configured")
	}

	encDoc := etree.NewDocument()
	wrapped := append([]byte("<w>"), append(enc.InnerXML, []byte("</w>")...)...)
	if err := encDoc.ReadFromBytes(wrapped); err != nil {
		return nil, newError(KindEncryption, fmt.Sprintf("malformed EncryptedData: %s", err))
	}
	dataEl := findChildNS(encDoc.Root(), NSXMLEnc, "EncryptedData")
	if dataEl == nil {
		return nil, newError(KindEncryption, "EncryptedData element not found")
	}

	keyEl := findEncryptedKeyElement(dataEl)
	if keyEl == nil {
		return nil, newError(KindEncryption, "decryption_failed: no EncryptedKey found alongside EncryptedData")
	}

	var plaintext []byte
	var lastErr error
	for _, key := range keys {
		symKey, err := xmlenc.Decrypt(key, keyEl)
		if err != nil {
			lastErr = err
			continue
		}
		pt, err := xmlenc.Decrypt(symKey, dataEl)
		if err != nil {
			lastErr = err
			continue
		}
		plaintext = pt
		lastErr = nil
		break
	}
	if plaintext == nil {
		logger.DefaultLogger.Printf("decrypt: all %d sp_decryption_keys failed: %v", len(keys), lastErr)
		return nil, newError(KindEncryption, "decryption_failed: no sp_decryption_key could decrypt the EncryptedData")
	}

	fragment, err := extractFragment(plaintext, kind)
	if err != nil {
		return nil, err
	}
	return fragment, nil
}

// findEncryptedKeyElement looks for the EncryptedKey nested under
// CipherData's sibling KeyInfo, the usual position, then falls back to
// any EncryptedKey deeper inside EncryptedData. Only EncryptedData's own
// descendants are searched: an EncryptedKey placed as a sibling of
// EncryptedData is not found.
func findEncryptedKeyElement(dataEl *etree.Element) *etree.Element {
	if keyInfo := findChildNS(dataEl, NSXMLDSig, "KeyInfo"); keyInfo != nil {
		if el := findChildNS(keyInfo, NSXMLEnc, "EncryptedKey"); el != nil {
			return el
		}
	}
	return dataEl.FindElement(".//EncryptedKey")
}

// extractFragment applies the closing-tag pattern, then wraps the
// recovered fragment in a synthesized namespace-declaring parent (spec
// §4.2 "Post-processing") so it reparses cleanly even when the fragment
// itself omits ancestor xmlns declarations.
func extractFragment(plaintext []byte, kind elementKind) (*etree.Element, error) {
	tag := kind.tagName()
	match := closingTagPattern(tag).Find(plaintext)
	if match == nil {
		return nil, newError(KindEncryption, fmt.Sprintf("malformed_plaintext: could not locate closing </%s> in decrypted bytes", tag))
	}

	var wrapper string
	switch kind {
	case kindAttribute:
		wrapper = fmt.Sprintf(`<wrap xmlns:saml="%s" xmlns:xsi="%s">%s</wrap>`, NSAssertion, NSXSI, match)
	default:
		wrapper = fmt.Sprintf(`<wrap xmlns:saml="%s">%s</wrap>`, NSAssertion, match)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes([]byte(wrapper)); err != nil {
		return nil, newError(KindEncryption, fmt.Sprintf("malformed_plaintext: %s", err))
	}
	root := doc.Root()
	if root == nil || len(root.ChildElements()) == 0 {
		return nil, newError(KindEncryption, "malformed_plaintext: wrapper produced no child element")
	}
	child := root.ChildElements()[0]
	child.Parent().RemoveChild(child)
	return child, nil
}

// decryptAssertionInto deep-copies origDoc, replaces its
// <EncryptedAssertion> with the decrypted <Assertion>, and returns the
// new document (spec §4.2 "Assertion flow").
func decryptAssertionInto(origDoc *etree.Document, keys []crypto.Decrypter) (*etree.Document, error) {
	var buf bytes.Buffer
	if _, err := origDoc.WriteTo(&buf); err != nil {
		return nil, err
	}
	copyDoc := etree.NewDocument()
	if err := copyDoc.ReadFromBytes(buf.Bytes()); err != nil {
		return nil, err
	}

	responseEl := copyDoc.Root()
	encAssertionEl := findChildNS(responseEl, NSAssertion, "EncryptedAssertion")
	if encAssertionEl == nil {
		return nil, newError(KindStructural, "no EncryptedAssertion found under Response")
	}
	encDataEl := findChildNS(encAssertionEl, NSXMLEnc, "EncryptedData")
	if encDataEl == nil {
		return nil, newError(KindEncryption, "EncryptedAssertion has no EncryptedData")
	}

	var buf2 bytes.Buffer
	tmpDoc := etree.NewDocument()
	tmpDoc.SetRoot(encDataEl.Copy())
	if _, err := tmpDoc.WriteTo(&buf2); err != nil {
		return nil, err
	}

	assertionEl, err := decryptElement(&EncryptedElement{InnerXML: buf2.Bytes()}, keys, kindAssertion)
	if err != nil {
		return nil, err
	}

	responseEl.RemoveChild(encAssertionEl)
	responseEl.AddChild(assertionEl)
	return copyDoc, nil
}
