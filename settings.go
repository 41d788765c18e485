package samlresponse

import (
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"golang.org/x/crypto/pkcs12"
)

// FingerprintAlgorithm names the digest used to compare a fingerprint
// trust anchor against the certificate embedded in the document.
type FingerprintAlgorithm string

const (
	FingerprintSHA1   FingerprintAlgorithm = "sha1"
	FingerprintSHA256 FingerprintAlgorithm = "sha256"
)

// Settings is the read-only view of SP configuration the validation
// engine consumes; spec §3 "Settings (input)". The core never mutates
// a Settings value it is handed.
type Settings struct {
	SPEntityID                  string
	AssertionConsumerServiceURL string
	IDPEntityID                 string

	IDPCert               *x509.Certificate
	IDPCertFingerprint    string
	IDPCertFingerprintAlg FingerprintAlgorithm
	// IDPCertMulti holds ordered candidate certificates keyed by usage;
	// only "signing" is consulted by the validation engine.
	IDPCertMulti map[string][]*x509.Certificate

	// SPDecryptionKeys are tried in order by the decryptor (key rotation).
	SPDecryptionKeys []crypto.Decrypter

	// SignatureVerifier, if set, is consulted after goxmldsig accepts a
	// candidate certificate, so a host can layer extra checks (e.g. an
	// internal CA chain walk) on top of the bundled cert-rotation trust
	// model without replacing it.
	SignatureVerifier SignatureVerifier

	WantAssertionsSigned     bool
	WantNameID               bool
	CheckIDPCertExpiration   bool
	StrictAudienceValidation bool

	// Soft records whether the host wants soft (boolean verdict plus
	// error list, via IsValid/Errors) or strict (first failure as a
	// returned error, via Validate) handling. Response's entry points do
	// not read it: IsValid and Validate each behave the same whatever
	// Soft holds, and a caller picks between them itself (as
	// cmd/samlresponsevalidate does). isSoft reports true when Settings
	// is nil.
	Soft bool
}

// HasTrustAnchor reports whether at least one of cert / fingerprint /
// multi-cert trust material is configured, the precondition checked by
// the response_state predicate (spec §4.5 row 1).
func (s *Settings) HasTrustAnchor() bool {
	if s == nil {
		return false
	}
	if s.IDPCert != nil {
		return true
	}
	if s.IDPCertFingerprint != "" {
		return true
	}
	return len(s.IDPCertMulti["signing"]) > 0
}

// signingCandidates returns the ordered list of certificates the DSig
// verifier should try, built from whichever of IDPCert/IDPCertMulti is
// configured (fingerprint trust is handled separately; see dsig.go).
func (s *Settings) signingCandidates() []*x509.Certificate {
	if s == nil {
		return nil
	}
	if certs := s.IDPCertMulti["signing"]; len(certs) > 0 {
		return certs
	}
	if s.IDPCert != nil {
		return []*x509.Certificate{s.IDPCert}
	}
	return nil
}

// isSoft reports the effective soft/strict mode, defaulting to soft when
// Settings is nil (spec §6).
func (s *Settings) isSoft() bool {
	if s == nil {
		return true
	}
	return s.Soft
}

// Options are the per-Response validation knobs from spec §3 "Options".
type Options struct {
	// AllowedClockDrift, in seconds. The effective drift used by the
	// engine is |AllowedClockDrift| plus a small epsilon (spec §4.5).
	AllowedClockDrift float64

	// MatchesRequestID, if non-nil, is compared against the Response's
	// InResponseTo by the in_response_to predicate. A nil value means
	// "don't care" (spec §9 open question, treated as intentional).
	MatchesRequestID *string

	CheckDuplicatedAttributes bool

	SkipAudienceValidation            bool
	SkipAuthnStatementValidation       bool
	SkipConditionsValidation           bool
	SkipDestinationValidation          bool
	SkipRecipientValidation            bool
	SkipSubjectConfirmationValidation bool
}

// drift returns the effective clock-drift tolerance as a time.Duration.
func (o Options) drift() time.Duration {
	v := o.AllowedClockDrift
	if v < 0 {
		v = -v
	}
	return time.Duration(v*float64(time.Second)) + clockDriftEpsilon
}

// LoadPKCS12SigningKey decodes a PKCS#12 bundle (a common IdP/SP key
// handoff format) into a decryption-capable private key and its
// certificate, for hosts that keep SP decryption key material in a
// .pfx/.p12 file rather than separate PEM files.
func LoadPKCS12SigningKey(pfxData []byte, password string) (crypto.Decrypter, *x509.Certificate, error) {
	key, cert, err := pkcs12.Decode(pfxData, password)
	if err != nil {
		return nil, nil, fmt.Errorf("samlresponse: decode pkcs12: %w", err)
	}
	decrypter, ok := key.(crypto.Decrypter)
	if !ok {
		return nil, nil, fmt.Errorf("samlresponse: pkcs12 key is not a crypto.Decrypter")
	}
	return decrypter, cert, nil
}
