// Command samlresponsevalidate is a small CLI demo of the core
// validator: given a base64-encoded (optionally deflate-compressed)
// SAMLResponse and an IdP certificate, it reports whether the Response
// validates and, if so, prints the authenticated NameID and attributes.
// It is a demonstration of the library's entry points, not a replacement
// for a real SP integration.
package main

import (
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"io"
	"os"

	saml "github.com/insaplace/samlresponse"
)

func main() {
	var (
		certPath  = flag.String("idp-cert", "", "path to the IdP's PEM-encoded signing certificate")
		spEntity  = flag.String("sp-entity-id", "", "this SP's entity ID (checked against the Response's Audience)")
		idpEntity = flag.String("idp-entity-id", "", "the IdP's entity ID (checked against the Response's Issuer)")
		acsURL    = flag.String("acs-url", "", "this SP's AssertionConsumerServiceURL (checked against Destination/Recipient)")
		strict    = flag.Bool("strict", false, "fail on the first validation error instead of collecting all of them")
	)
	flag.Parse()

	if *certPath == "" {
		fmt.Fprintln(os.Stderr, "samlresponsevalidate: -idp-cert is required")
		os.Exit(2)
	}

	cert, err := loadCertificate(*certPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "samlresponsevalidate: %s\n", err)
		os.Exit(2)
	}

	encoded, err := io.ReadAll(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "samlresponsevalidate: reading stdin: %s\n", err)
		os.Exit(2)
	}

	settings := &saml.Settings{
		SPEntityID:                  *spEntity,
		AssertionConsumerServiceURL: *acsURL,
		IDPEntityID:                 *idpEntity,
		IDPCert:                     cert,
		WantAssertionsSigned:        true,
		Soft:                        !*strict,
	}

	resp, err := saml.New(string(encoded), settings, saml.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "samlresponsevalidate: %s\n", err)
		os.Exit(1)
	}

	// settings.Soft (set above from -strict) picks which of the two
	// entry points this demo uses: soft mode prints every failure,
	// strict mode prints only the first (Validate's error message).
	if settings.Soft {
		if !resp.IsValid(true) {
			fmt.Fprintln(os.Stderr, "INVALID")
			for _, msg := range resp.Errors() {
				fmt.Fprintf(os.Stderr, "  - %s\n", msg)
			}
			os.Exit(1)
		}
	} else if verr := resp.Validate(); verr != nil {
		fmt.Fprintln(os.Stderr, "INVALID")
		fmt.Fprintf(os.Stderr, "  - %s\n", verr)
		os.Exit(1)
	}

	fmt.Println("VALID")
	fmt.Printf("NameID:     %s (%s)\n", resp.NameID(), resp.NameIDFormat())
	fmt.Printf("Issuer:     %v\n", resp.Issuers())
	fmt.Printf("NotBefore:  %v\n", resp.NotBefore())
	fmt.Printf("NotOnOrAfter: %v\n", resp.NotOnOrAfter())
	for _, name := range resp.Attributes().Names() {
		vals, _ := resp.Attributes().All(name)
		fmt.Printf("Attribute %s: %v\n", name, vals)
	}
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%s: not a PEM file", path)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cert, nil
}
