package samlresponse

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stretchr/testify/assert"
)

func generateTestCertDER(t *testing.T) []byte {
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
	return der
}

func TestSettingsFromEntityDescriptor(t *testing.T) {
	der := generateTestCertDER(t)
	entity := &EntityDescriptor{
		EntityID: "https://idp.example.com",
		IDPSSODescriptors: []IDPSSODescriptor{
			{
				SSODescriptor: SSODescriptor{},
				SingleSignOnServices: []Endpoint{
					{Binding: HTTPRedirectBinding, Location: "https://idp.example.com/sso"},
				},
			},
		},
	}
	entity.IDPSSODescriptors[0].KeyDescriptors = []KeyDescriptor{
		{
			Use: "signing",
			KeyInfo: KeyInfo{
				X509Data: X509Data{
					X509Certificates: []X509Certificate{
						{Data: base64.StdEncoding.EncodeToString(der)},
					},
				},
			},
		},
	}

	settings, err := SettingsFromEntityDescriptor(entity)
	require.NoError(t, err)
	assert.Equal(t, "https://idp.example.com", settings.IDPEntityID)
	require.True(t, settings.HasTrustAnchor())
	require.Len(t, settings.IDPCertMulti["signing"], 1)
	assert.Equal(t, "idp.example.com", settings.IDPCertMulti["signing"][0].Subject.CommonName)
}

func TestSettingsFromEntityDescriptorNil(t *testing.T) {
	_, err := SettingsFromEntityDescriptor(nil)
	require.Error(t, err)
}
