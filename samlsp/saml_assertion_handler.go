package samlsp

import saml "github.com/insaplace/samlresponse"

// AssertionHandler is an interface implemented by types that can handle
// a validated Response and add extra functionality, e.g. provisioning a
// local session from its NameID and Attributes.
type AssertionHandler interface {
	HandleAssertion(response *saml.Response) error
}
