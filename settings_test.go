package samlresponse

import (
	"crypto/x509"
	"testing"

	"github.com/stretchr/testify/assert"
)

func selfSignedTestCert() *x509.Certificate {
	// A minimal, unparsed placeholder is not enough here since
	// HasTrustAnchor/signingCandidates only check presence, not validity;
	// a zero-value certificate is sufficient to exercise that branch.
	return &x509.Certificate{}
}

func TestSettingsHasTrustAnchor(t *testing.T) {
	assert.False(t, (*Settings)(nil).HasTrustAnchor())
	assert.False(t, (&Settings{}).HasTrustAnchor())
	assert.True(t, (&Settings{IDPCert: selfSignedTestCert()}).HasTrustAnchor())
	assert.True(t, (&Settings{IDPCertFingerprint: "aabbcc"}).HasTrustAnchor())
	assert.True(t, (&Settings{IDPCertMulti: map[string][]*x509.Certificate{"signing": {selfSignedTestCert()}}}).HasTrustAnchor())
}

func TestSettingsSigningCandidates(t *testing.T) {
	cert := selfSignedTestCert()
	multi := []*x509.Certificate{selfSignedTestCert(), selfSignedTestCert()}

	assert.Nil(t, (&Settings{}).signingCandidates())
	assert.Equal(t, []*x509.Certificate{cert}, (&Settings{IDPCert: cert}).signingCandidates())
	assert.Equal(t, multi, (&Settings{IDPCertMulti: map[string][]*x509.Certificate{"signing": multi}, IDPCert: cert}).signingCandidates())
}

func TestSettingsIsSoft(t *testing.T) {
	assert.True(t, (*Settings)(nil).isSoft())
	assert.False(t, (&Settings{Soft: false}).isSoft())
	assert.True(t, (&Settings{Soft: true}).isSoft())
}
