package samlresponse

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"testing"

	"github.com/kr/pretty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBlankResponse(t *testing.T) {
	resp, err := New("   ", &Settings{IDPCert: selfSignedTestCert()}, Options{})
	require.NoError(t, err)
	assert.False(t, resp.IsValid(true))
	assert.Contains(t, resp.Errors(), "Blank response")
}

func TestNewMalformedBase64(t *testing.T) {
	_, err := New("not-base64-!!!", &Settings{}, Options{})
	require.Error(t, err)
	var ve *fieldError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, KindMalformedInput, ve.Kind)
}

func TestNewNilSettings(t *testing.T) {
	resp, err := New(encodeResponseFixture(t, minimalResponseXML), nil, Options{})
	require.NoError(t, err)
	if resp.IsValid(true) {
		t.Fatalf("expected invalid response, got fields: %# v", pretty.Formatter(resp.fields))
	}
	assert.Contains(t, resp.Errors(), "Invalid settings: settings is required")
}

func TestDecodePayloadBase64Variants(t *testing.T) {
	payload := []byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"/>`)
	for _, tt := range []struct {
		name string
		enc  *base64.Encoding
	}{
		{"std", base64.StdEncoding},
		{"raw std", base64.RawStdEncoding},
		{"url", base64.URLEncoding},
		{"raw url", base64.RawURLEncoding},
	} {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.enc.EncodeToString(payload)
			decoded, err := decodePayload(encoded)
			require.NoError(t, err)
			assert.Equal(t, payload, decoded)
		})
	}
}

func TestDecodePayloadDeflate(t *testing.T) {
	payload := []byte(`<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"/>`)
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	encoded := base64.StdEncoding.EncodeToString(buf.Bytes())
	decoded, err := decodePayload(encoded)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

const minimalResponseXML = `<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion" ID="_resp1" Version="2.0">
  <saml:Issuer>https://idp.example.com</saml:Issuer>
  <samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>
</samlp:Response>`

func encodeResponseFixture(t *testing.T, xml string) string {
	t.Helper()
	return base64.StdEncoding.EncodeToString([]byte(xml))
}
