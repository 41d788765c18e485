package samlresponse

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gtassert "gotest.tools/assert"
)

func TestFirstSet(t *testing.T) {
	assert.Equal(t, "b", firstSet("", "b", "c"))
	assert.Equal(t, "", firstSet("", ""))
	assert.Equal(t, "a", firstSet("a"))
}

func TestUriEquivalent(t *testing.T) {
	for _, tt := range []struct {
		name string
		a, b string
		want bool
	}{
		{"identical", "https://sp.example.com/acs", "https://sp.example.com/acs", true},
		{"default https port", "https://sp.example.com:443/acs", "https://sp.example.com/acs", true},
		{"default http port", "http://sp.example.com:80/acs", "http://sp.example.com/acs", true},
		{"trailing slash", "https://sp.example.com/acs/", "https://sp.example.com/acs", true},
		{"case insensitive host", "https://SP.Example.com/acs", "https://sp.example.com/acs", true},
		{"different path", "https://sp.example.com/acs", "https://sp.example.com/other", false},
		{"different host", "https://sp.example.com/acs", "https://evil.example.com/acs", false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, uriEquivalent(tt.a, tt.b))
		})
	}
}

func TestFindChildNS(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`
		<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion">
			<saml:Issuer>https://idp.example.com</saml:Issuer>
		</samlp:Response>
	`))
	issuer := findChildNS(doc.Root(), NSAssertion, "Issuer")
	require.NotNil(t, issuer)
	gtassert.Equal(t, "https://idp.example.com", issuer.Text())

	assert.Nil(t, findChildNS(doc.Root(), NSAssertion, "NotThere"))
	assert.Nil(t, findChildNS(nil, NSAssertion, "Issuer"))
}
