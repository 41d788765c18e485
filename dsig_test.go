package samlresponse

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generateTestCert(t *testing.T) (*x509.Certificate, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert, der
}

func TestFingerprintMatches(t *testing.T) {
	cert, _ := generateTestCert(t)
	sum1 := sha1.Sum(cert.Raw)
	sum256 := sha256.Sum256(cert.Raw)

	assert.True(t, fingerprintMatches(cert, hex.EncodeToString(sum1[:]), FingerprintSHA1))
	assert.True(t, fingerprintMatches(cert, hex.EncodeToString(sum256[:]), FingerprintSHA256))

	colonSeparated := formatColonHex(sum1[:])
	assert.True(t, fingerprintMatches(cert, colonSeparated, FingerprintSHA1), "colon-separated fingerprints must match")
	assert.True(t, fingerprintMatches(cert, strings.ToUpper(hex.EncodeToString(sum1[:])), FingerprintSHA1), "case must not matter")

	assert.False(t, fingerprintMatches(cert, "0000000000000000000000000000000000000000", FingerprintSHA1))
}

func TestExtractKeyInfoCert(t *testing.T) {
	_, der := generateTestCert(t)
	doc := etree.NewDocument()
	xmlStr := fmt.Sprintf(`<ds:Signature xmlns:ds="%s"><ds:KeyInfo><ds:X509Data><ds:X509Certificate>%s</ds:X509Certificate></ds:X509Data></ds:KeyInfo></ds:Signature>`,
		NSXMLDSig, base64.StdEncoding.EncodeToString(der))
	require.NoError(t, doc.ReadFromString(xmlStr))

	cert, err := extractKeyInfoCert(doc.Root())
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", cert.Subject.CommonName)
}

func TestExtractKeyInfoCertMissing(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"/>`))
	_, err := extractKeyInfoCert(doc.Root())
	assert.Error(t, err)
}

func TestVerifySignedElementNilSettings(t *testing.T) {
	result := verifySignedElement(&etree.Element{}, nil)
	assert.Equal(t, KindConfiguration, result.err.(*fieldError).Kind)
}

func TestVerifySignedElementMissingSignature(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r1"/>`))
	result := verifySignedElement(doc.Root(), &Settings{IDPCert: selfSignedTestCert()})
	assert.ErrorIs(t, result.err, ErrMissingSignature)
}

// testKeyStore adapts a freshly generated key pair to goxmldsig's
// X509KeyStore, the interface its SigningContext needs to produce a
// signature.
type testKeyStore struct {
	key  *rsa.PrivateKey
	cert *x509.Certificate
}

func (k *testKeyStore) GetKeyPair() (*rsa.PrivateKey, *x509.Certificate, error) {
	return k.key, k.cert, nil
}

// TestVerifySignedElementSignRoundTrip signs a Response with goxmldsig's
// own SigningContext rather than hand-building a <ds:Signature>, so the
// verify path is exercised against a signature nothing in this package
// produced.
func TestVerifySignedElementSignRoundTrip(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_r1"><samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status></samlp:Response>`))

	signCtx := dsig.NewDefaultSigningContext(&testKeyStore{key: key, cert: cert})
	signed, err := signCtx.SignEnveloped(doc.Root())
	require.NoError(t, err)

	result := verifySignedElement(signed, &Settings{IDPCert: cert})
	require.NoError(t, result.err)
	require.NotNil(t, result.transformed)
	assert.Equal(t, cert.Raw, result.certUsed.Raw)

	wrongCert, _ := generateTestCert(t)
	badResult := verifySignedElement(signed, &Settings{IDPCert: wrongCert})
	assert.Error(t, badResult.err)
}

func formatColonHex(b []byte) string {
	out := ""
	for i, c := range hex.EncodeToString(b) {
		if i > 0 && i%2 == 0 {
			out += ":"
		}
		out += string(c)
	}
	return out
}
