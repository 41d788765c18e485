package samlresponse

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// ErrMissingSignature is returned when a candidate element has no
// <ds:Signature> child at all (distinct from a signature that is present
// but fails to verify).
var ErrMissingSignature = dsig.ErrMissingSignature

// dsigResult is the outcome of verifying one candidate signed element,
// per spec §4.1.
type dsigResult struct {
	// transformed is the element with its <ds:Signature> removed, as
	// returned by goxmldsig on success — the "signed scope" root.
	transformed *etree.Element
	certUsed    *x509.Certificate
	err         error
}

// verifySignedElement verifies the <ds:Signature> child of el against the
// trust material in settings: a fingerprint (pre-filtered locally, then
// verified against the matching certificate), a single certificate, or an
// ordered multi-cert rotation list (spec §4.1 step 4: try each, clear
// accumulated errors on first success).
func verifySignedElement(el *etree.Element, settings *Settings) dsigResult {
	if settings == nil {
		return dsigResult{err: newError(KindConfiguration, "Invalid settings: settings is required")}
	}
	if el == nil {
		return dsigResult{err: ErrMissingSignature}
	}
	sigEl := findChildNS(el, NSXMLDSig, "Signature")
	if sigEl == nil {
		return dsigResult{err: ErrMissingSignature}
	}
	if id := el.SelectAttrValue("ID", ""); id == "" {
		return dsigResult{err: newError(KindSignature, "signature's parent element has no ID attribute")}
	}

	if settings.IDPCertFingerprint != "" {
		cert, err := extractKeyInfoCert(sigEl)
		if err != nil {
			return dsigResult{err: newError(KindSignature, fmt.Sprintf("unable to extract certificate from Signature/KeyInfo: %s", err))}
		}
		if !fingerprintMatches(cert, settings.IDPCertFingerprint, settings.IDPCertFingerprintAlg) {
			return dsigResult{err: newError(KindSignature, "Fingerprint mismatch on the IdP signing certificate")}
		}
		return finishVerify(el, []*x509.Certificate{cert}, settings)
	}

	candidates := settings.signingCandidates()
	if len(candidates) == 0 {
		return dsigResult{err: newError(KindConfiguration, "no idp_cert, idp_cert_fingerprint, or idp_cert_multi configured")}
	}
	return finishVerify(el, candidates, settings)
}

// finishVerify tries each candidate certificate in order via goxmldsig,
// clearing any error accumulated by earlier failures on first success.
func finishVerify(el *etree.Element, candidates []*x509.Certificate, settings *Settings) dsigResult {
	var lastErr error
	for _, cert := range candidates {
		store := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}}
		ctx := dsig.NewDefaultValidationContext(store)
		transformed, err := ctx.Validate(el)
		if err != nil {
			lastErr = err
			continue
		}
		if settings.CheckIDPCertExpiration {
			now := TimeNow()
			if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
				return dsigResult{err: newError(KindSignature, "cert_expired: the IdP signing certificate is outside its validity window")}
			}
		}
		if settings.SignatureVerifier != nil {
			if err := settings.SignatureVerifier.VerifyCertificate(cert); err != nil {
				lastErr = err
				continue
			}
		}
		// Success: clear errors accumulated by prior candidates.
		return dsigResult{transformed: transformed, certUsed: cert}
	}
	if lastErr == dsig.ErrMissingSignature {
		return dsigResult{err: lastErr}
	}
	return dsigResult{err: newError(KindSignature, fmt.Sprintf("Invalid Signature on SAML Response: %v", lastErr))}
}

// extractKeyInfoCert parses the first <ds:X509Certificate> found under a
// <ds:Signature>'s <ds:KeyInfo>.
func extractKeyInfoCert(sigEl *etree.Element) (*x509.Certificate, error) {
	certEl := sigEl.FindElement(".//X509Certificate")
	if certEl == nil {
		return nil, fmt.Errorf("no X509Certificate in KeyInfo")
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return nil, fmt.Errorf("decode X509Certificate base64: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse X509Certificate: %w", err)
	}
	return cert, nil
}

// fingerprintMatches compares cert's digest against the configured
// fingerprint, tolerating colon- or space-separated hex and case
// differences the way IdP admin consoles commonly format them.
func fingerprintMatches(cert *x509.Certificate, fingerprint string, alg FingerprintAlgorithm) bool {
	want := normalizeFingerprint(fingerprint)
	var got string
	switch alg {
	case FingerprintSHA256:
		sum := sha256.Sum256(cert.Raw)
		got = hex.EncodeToString(sum[:])
	default:
		sum := sha1.Sum(cert.Raw)
		got = hex.EncodeToString(sum[:])
	}
	return got == want
}

func normalizeFingerprint(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", "")
	s = strings.ReplaceAll(s, " ", "")
	return s
}
