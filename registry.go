package samlresponse

import (
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"sync"
	"time"
)

// Registry holds one Settings value per trusted IdP, keyed by IdP entity
// ID, so a single SP deployment can validate Responses asserted by more
// than one IdP: Registry.For resolves the right trust anchors by the
// Issuer the Response itself names, before New ever verifies a
// signature against them. Adapted from the teacher's
// ServiceMultipleProvider, which did the analogous per-IdP lookup for
// outgoing AuthnRequest construction (out of scope here).
type Registry struct {
	mu        sync.RWMutex
	providers map[string]*Settings

	// EntityID is this SP's own entity ID, used when publishing Metadata.
	EntityID string

	// AcsURL is this SP's AssertionConsumerService endpoint, advertised
	// in Metadata so IdPs know where to POST Responses.
	AcsURL url.URL

	// EncryptionCert, if set, is published in Metadata as the SP's
	// encryption KeyDescriptor so IdPs know which certificate to wrap
	// EncryptedAssertion bulk keys with. Its private counterpart belongs
	// in the matching Settings.SPDecryptionKeys.
	EncryptionCert *x509.Certificate

	// MetadataValidDuration overrides DefaultValidDuration when set.
	MetadataValidDuration time.Duration
}

// NewRegistry constructs an empty Registry ready for Register calls.
func NewRegistry(entityID string, acsURL url.URL) *Registry {
	return &Registry{
		providers: map[string]*Settings{},
		EntityID:  entityID,
		AcsURL:    acsURL,
	}
}

// Register adds or replaces the trusted Settings for one IdP entity ID.
// Safe for concurrent use alongside For, so a host can rotate an IdP's
// certificate without pausing inbound Response validation.
func (reg *Registry) Register(idpEntityID string, settings *Settings) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.providers[idpEntityID] = settings
}

// RegisterFromMetadata derives Settings via SettingsFromEntityDescriptor
// and registers it, a convenience for hosts that already hold a parsed
// IdP EntityDescriptor (samlsp/fetch_metadata.go's RegisterIDPMetadata
// fetches, parses and registers in one step).
func (reg *Registry) RegisterFromMetadata(entity *EntityDescriptor) error {
	settings, err := SettingsFromEntityDescriptor(entity)
	if err != nil {
		return err
	}
	reg.Register(entity.EntityID, settings)
	return nil
}

// For returns the Settings registered for idpEntityID, or an error if no
// IdP is registered under that name. Callers typically resolve
// idpEntityID from an unauthenticated Response's Issuer field first
// (spec §4.5's issuer predicate still re-checks it against the
// authenticated signed scope once resolved).
func (reg *Registry) For(idpEntityID string) (*Settings, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	settings, ok := reg.providers[idpEntityID]
	if !ok {
		return nil, fmt.Errorf("samlresponse: no settings registered for idp entity id %q", idpEntityID)
	}
	return settings, nil
}

// Metadata builds this SP's own EntityDescriptor: where Responses should
// be POSTed, and which certificate IdPs should encrypt Assertions with.
// Building outgoing AuthnRequest/LogoutRequest messages stays out of
// scope, but publishing what an IdP needs to address and encrypt to this
// SP is a natural companion to inbound Response validation.
func (reg *Registry) Metadata() *EntityDescriptor {
	validDuration := DefaultValidDuration
	if reg.MetadataValidDuration > 0 {
		validDuration = reg.MetadataValidDuration
	}
	validUntil := TimeNow().Add(validDuration)

	var keyDescriptors []KeyDescriptor
	if reg.EncryptionCert != nil {
		keyDescriptors = []KeyDescriptor{
			{
				Use: "encryption",
				KeyInfo: KeyInfo{
					X509Data: X509Data{
						X509Certificates: []X509Certificate{
							{Data: base64.StdEncoding.EncodeToString(reg.EncryptionCert.Raw)},
						},
					},
				},
				EncryptionMethods: []EncryptionMethod{
					{Algorithm: "http://www.w3.org/2009/xmlenc11#aes128-gcm"},
					{Algorithm: "http://www.w3.org/2009/xmlenc11#aes256-gcm"},
					{Algorithm: "http://www.w3.org/2001/04/xmlenc#aes128-cbc"},
					{Algorithm: "http://www.w3.org/2001/04/xmlenc#aes256-cbc"},
					{Algorithm: "http://www.w3.org/2001/04/xmlenc#rsa-oaep-mgf1p"},
				},
			},
		}
	}

	return &EntityDescriptor{
		EntityID:   reg.EntityID,
		ValidUntil: validUntil,
		SPSSODescriptors: []SPSSODescriptor{
			{
				SSODescriptor: SSODescriptor{
					RoleDescriptor: RoleDescriptor{
						ProtocolSupportEnumeration: "urn:oasis:names:tc:SAML:2.0:protocol",
						KeyDescriptors:             keyDescriptors,
						ValidUntil:                 &validUntil,
					},
				},
				WantAssertionsSigned: boolPtr(true),
				AssertionConsumerServices: []IndexedEndpoint{
					{
						Binding:  HTTPPostBinding,
						Location: reg.AcsURL.String(),
						Index:    1,
					},
				},
			},
		},
	}
}

func boolPtr(b bool) *bool { return &b }
