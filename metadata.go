package samlresponse

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"strings"
	"time"
)

// Binding URIs used throughout metadata and settings derivation.
const (
	HTTPPostBinding     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	HTTPRedirectBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	HTTPArtifactBinding = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Artifact"
	SOAPBinding         = "urn:oasis:names:tc:SAML:2.0:bindings:SOAP"

	// DefaultValidDuration is how long a generated SP EntityDescriptor
	// claims to be valid for, absent an explicit override.
	DefaultValidDuration = 48 * time.Hour
)

// NameIDFormat is one of the urn:oasis:names:tc:SAML:...:nameid-format:...
// URIs.
type NameIDFormat string

const (
	EmailAddressNameIDFormat NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	PersistentNameIDFormat   NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	TransientNameIDFormat    NameIDFormat = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
	UnspecifiedNameIDFormat  NameIDFormat = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
)

// RequestedAuthnContext lets a host record which authentication context
// class it expects back from an IdP. It has no bearing on Response
// validation itself but travels alongside Settings as configuration a
// host keeps next to its trust material.
type RequestedAuthnContext struct {
	Comparison           string   `xml:"Comparison,attr,omitempty"`
	AuthnContextClassRef []string `xml:"AuthnContextClassRef,omitempty"`
}

// SignatureVerifier lets a host add its own check of the certificate a
// signature verified against. It does not replace dsig.go's goxmldsig
// verification: finishVerify consults it only after goxmldsig has
// accepted a candidate certificate, and a non-nil error rejects that
// candidate.
type SignatureVerifier interface {
	VerifyCertificate(cert *x509.Certificate) error
}

// X509Certificate is base64 DER certificate data embedded in KeyInfo.
type X509Certificate struct {
	Data string `xml:",chardata"`
}

// X509Data wraps one or more certificates in a KeyInfo.
type X509Data struct {
	X509Certificates []X509Certificate `xml:"X509Certificate"`
}

// KeyInfo is the <ds:KeyInfo> element of a metadata KeyDescriptor.
type KeyInfo struct {
	X509Data X509Data `xml:"X509Data"`
}

// EncryptionMethod names one algorithm a KeyDescriptor supports.
type EncryptionMethod struct {
	Algorithm string `xml:"Algorithm,attr"`
}

// KeyDescriptor is a <KeyDescriptor> in an SPSSODescriptor or
// IDPSSODescriptor.
type KeyDescriptor struct {
	Use               string             `xml:"use,attr,omitempty"`
	KeyInfo           KeyInfo            `xml:"KeyInfo"`
	EncryptionMethods []EncryptionMethod `xml:"EncryptionMethod,omitempty"`
}

// Endpoint is a single-value SAML endpoint (e.g. SingleLogoutService).
type Endpoint struct {
	Binding          string `xml:"Binding,attr"`
	Location         string `xml:"Location,attr"`
	ResponseLocation string `xml:"ResponseLocation,attr,omitempty"`
}

// IndexedEndpoint is an Endpoint with an ordering Index (e.g.
// AssertionConsumerService).
type IndexedEndpoint struct {
	Binding   string `xml:"Binding,attr"`
	Location  string `xml:"Location,attr"`
	Index     int    `xml:"index,attr"`
	IsDefault *bool  `xml:"isDefault,attr,omitempty"`
}

// RoleDescriptor is the common base of SPSSODescriptor/IDPSSODescriptor.
type RoleDescriptor struct {
	ProtocolSupportEnumeration string          `xml:"protocolSupportEnumeration,attr"`
	KeyDescriptors             []KeyDescriptor `xml:"KeyDescriptor,omitempty"`
	ValidUntil                 *time.Time      `xml:"validUntil,attr,omitempty"`
}

// SSODescriptor adds the SLO/NameIDFormat fields shared by SP and IdP
// role descriptors.
type SSODescriptor struct {
	RoleDescriptor
	SingleLogoutServices []Endpoint     `xml:"SingleLogoutService,omitempty"`
	NameIDFormats        []NameIDFormat `xml:"NameIDFormat,omitempty"`
}

// SPSSODescriptor is the SP role descriptor a host publishes in its own
// metadata so IdPs know where to send Responses and which certificate
// to encrypt Assertions with.
type SPSSODescriptor struct {
	SSODescriptor
	AuthnRequestsSigned       *bool             `xml:"AuthnRequestsSigned,attr,omitempty"`
	WantAssertionsSigned      *bool             `xml:"WantAssertionsSigned,attr,omitempty"`
	AssertionConsumerServices []IndexedEndpoint `xml:"AssertionConsumerService,omitempty"`
}

// AttributeService is one <AttributeService> endpoint of an
// AttributeAuthorityDescriptor (attribute query support).
type AttributeService struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
}

// AttributeAuthorityDescriptor describes an IdP's attribute query
// endpoint, present in some IdP metadata documents alongside the
// IDPSSODescriptor this module actually derives trust material from.
type AttributeAuthorityDescriptor struct {
	RoleDescriptor
	AttributeServices []AttributeService `xml:"AttributeService,omitempty"`
}

// IDPSSODescriptor is the role descriptor read out of IdP metadata to
// derive a Settings value: its signing KeyDescriptors become
// IDPCertMulti["signing"].
type IDPSSODescriptor struct {
	SSODescriptor
	WantAuthnRequestsSigned *bool      `xml:"WantAuthnRequestsSigned,attr,omitempty"`
	SingleSignOnServices    []Endpoint `xml:"SingleSignOnService,omitempty"`
}

// EntityDescriptor is the root of one IdP's or SP's SAML metadata
// document.
type EntityDescriptor struct {
	XMLName                       xml.Name                       `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID                      string                          `xml:"entityID,attr"`
	ValidUntil                    time.Time                       `xml:"validUntil,attr,omitempty"`
	Name                          *string                         `xml:"Name,attr,omitempty"`
	SPSSODescriptors              []SPSSODescriptor              `xml:"SPSSODescriptor,omitempty"`
	IDPSSODescriptors             []IDPSSODescriptor             `xml:"IDPSSODescriptor,omitempty"`
	AttributeAuthorityDescriptors []AttributeAuthorityDescriptor `xml:"AttributeAuthorityDescriptor,omitempty"`
}

// EntitiesDescriptor wraps one or more EntityDescriptors, the shape some
// federations publish metadata aggregates in. The core package only
// defines these types; fetching and parsing metadata documents is an
// ambient convenience samlsp/fetch_metadata.go provides.
type EntitiesDescriptor struct {
	XMLName           xml.Name           `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntitiesDescriptor"`
	EntityDescriptors []EntityDescriptor `xml:"EntityDescriptor"`
}

// SettingsFromEntityDescriptor derives a Settings value from a parsed
// IdP EntityDescriptor: its signing certificates become
// IDPCertMulti["signing"], and its entity ID becomes IDPEntityID. Hosts
// still set SPEntityID, AssertionConsumerServiceURL, and
// SPDecryptionKeys themselves — metadata carries no SP decryption key
// material, only public certificates.
func SettingsFromEntityDescriptor(entity *EntityDescriptor) (*Settings, error) {
	if entity == nil {
		return nil, newError(KindConfiguration, "nil EntityDescriptor")
	}
	settings := &Settings{IDPEntityID: entity.EntityID}

	var signing []*x509.Certificate
	for _, idp := range entity.IDPSSODescriptors {
		for _, kd := range idp.KeyDescriptors {
			if kd.Use != "" && kd.Use != "signing" {
				continue
			}
			for _, certData := range kd.KeyInfo.X509Data.X509Certificates {
				cert, err := parseMetadataCertificate(certData.Data)
				if err != nil {
					return nil, newError(KindConfiguration, err.Error())
				}
				signing = append(signing, cert)
			}
		}
	}
	if len(signing) > 0 {
		settings.IDPCertMulti = map[string][]*x509.Certificate{"signing": signing}
	}
	return settings, nil
}

// parseMetadataCertificate decodes the base64 DER payload metadata
// embeds inline (no PEM armor, often wrapped across multiple lines).
func parseMetadataCertificate(data string) (*x509.Certificate, error) {
	cleaned := strings.Join(strings.Fields(data), "")
	der, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("samlresponse: decode metadata certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("samlresponse: parse metadata certificate: %w", err)
	}
	return cert, nil
}
