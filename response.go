package samlresponse

import (
	"bytes"
	"compress/flate"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/beevik/etree"
	xrv "github.com/mattermost/xml-roundtrip-validator"

	"github.com/insaplace/samlresponse/logger"
)

// Response is the root type of this module: a parsed Response DOM plus,
// if the Assertion arrived encrypted, the decrypted DOM it was
// substituted into. Both are retained per spec §3; every field read
// after construction comes from memoized state computed once in New.
type Response struct {
	raw string

	origDoc      *etree.Document
	decryptedDoc *etree.Document

	settings *Settings
	opts     Options

	traceID string

	scope  *signedScope
	fields *parsedFields

	conditionsCount     int
	authnStatementCount int

	// buildErrs accumulates every predicate failure found while
	// constructing fields (malformed/structural/encryption/signature);
	// validate() folds these in ahead of the profile predicates so a
	// broken document can't silently short-circuit to "valid".
	buildErrs []*fieldError
}

// New decodes encoded (base64, optionally deflate-compressed, per spec
// §6), parses it, decrypts any encrypted assertion/identifiers it
// contains, verifies its signature, and eagerly computes every field the
// validation engine and accessors need (spec §5 and §9: "prefer eager
// computation at construction"). It only returns a non-nil error for
// input that cannot be decoded/parsed at all (KindMalformedInput);
// profile/signature/encryption failures surface through IsValid/Errors.
func New(encoded string, settings *Settings, opts Options) (*Response, error) {
	r := &Response{
		raw:      strings.TrimSpace(encoded),
		settings: settings,
		opts:     opts,
		traceID:  newTraceID(),
	}

	if r.raw == "" {
		return r, nil
	}

	decoded, err := decodePayload(r.raw)
	if err != nil {
		return nil, fmt.Errorf("samlresponse: %w", newError(KindMalformedInput, fmt.Sprintf("unable to decode response: %s", err)))
	}

	if err := xrv.Validate(bytes.NewReader(decoded)); err != nil {
		return nil, fmt.Errorf("samlresponse: %w", newError(KindMalformedInput, fmt.Sprintf("invalid xml: %s", err)))
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(decoded); err != nil {
		return nil, fmt.Errorf("samlresponse: %w", newError(KindMalformedInput, fmt.Sprintf("unable to parse xml: %s", err)))
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("samlresponse: %w", newError(KindMalformedInput, "empty document"))
	}
	r.origDoc = doc

	r.build()
	return r, nil
}

// decodePayload implements spec §6's lenient decoder: strip whitespace,
// try base64 (standard or URL-safe, padded or not), then try inflating
// the result as raw DEFLATE (the HTTP-Redirect binding's encoding).
func decodePayload(s string) ([]byte, error) {
	stripped := strings.Join(strings.Fields(s), "")

	var decoded []byte
	var err error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if decoded, err = enc.DecodeString(stripped); err == nil {
			break
		}
	}
	if err != nil {
		return nil, fmt.Errorf("not valid base64: %w", err)
	}

	trimmed := bytes.TrimSpace(decoded)
	if bytes.HasPrefix(trimmed, []byte("<")) {
		return decoded, nil
	}

	inflated, ierr := io.ReadAll(flate.NewReader(bytes.NewReader(decoded)))
	if ierr == nil && len(inflated) > 0 {
		return inflated, nil
	}
	return decoded, nil
}

// build computes every memoized field eagerly: decrypt (if needed),
// resolve the signed scope, then extract all Response/Assertion fields.
// Any failure along the way is recorded in buildErrs rather than
// aborting, so later accessors degrade gracefully and the validation
// engine still gets to report every independent problem in
// collect-errors mode.
func (r *Response) build() {
	id, inResponseTo, destination, version := extractResponseFields(r.origDoc)
	status := extractStatus(r.origDoc)
	plaintextCount, encryptedCount := countAssertions(r.origDoc)

	r.fields = &parsedFields{
		responseID:              id,
		inResponseTo:             inResponseTo,
		destination:              destination,
		version:                  version,
		status:                   status,
		plaintextAssertionCount: plaintextCount,
		encryptedAssertionCount: encryptedCount,
	}

	// Issuer is read once, unverified, up front: callers that only have
	// an encoded Response and no Settings yet (e.g. to look up which
	// IdP's Settings to use) still need Issuers() to work. The
	// authenticated re-extraction below, once a signed scope is
	// resolved, overwrites this with the trusted answer.
	issuers, ierr := extractIssuers(r.origDoc, unverifiedAssertionScope(r.origDoc))
	if ierr != nil {
		r.buildErrs = append(r.buildErrs, ierr)
	}
	r.fields.responseIssuers = issuers

	if r.settings == nil {
		r.buildErrs = append(r.buildErrs, newError(KindConfiguration, "Invalid settings: settings is required"))
		return
	}

	if encryptedCount > 0 {
		decDoc, err := decryptAssertionInto(r.origDoc, r.settings.SPDecryptionKeys)
		if err != nil {
			logger.DefaultLogger.Printf("[%s] decrypt assertion: %v", r.traceID, err)
			r.buildErrs = append(r.buildErrs, asFieldError(err))
		} else {
			r.decryptedDoc = decDoc
		}
	}

	scope, errs := resolveSignedScope(r.origDoc, r.decryptedDoc, r.settings)
	r.buildErrs = append(r.buildErrs, errs...)
	r.scope = scope
	if scope == nil {
		return
	}

	if assertionEl := scope.assertionElement(); assertionEl != nil {
		r.fields.assertionID = assertionEl.SelectAttrValue("ID", "")
	}

	issuers, ierr = extractIssuers(r.origDoc, scope)
	if ierr != nil {
		r.buildErrs = append(r.buildErrs, ierr)
	}
	r.fields.responseIssuers = issuers

	decryptionKeys := r.settings.SPDecryptionKeys

	nameID, nerr := extractNameID(scope, decryptionKeys)
	if nerr != nil {
		r.buildErrs = append(r.buildErrs, nerr)
	}
	r.fields.nameID = nameID

	conditions, condCount := extractConditions(scope)
	r.fields.conditions = conditions
	r.conditionsCount = condCount

	authnStatement, authnCount := extractAuthnStatement(scope)
	r.fields.authnStatement = authnStatement
	r.authnStatementCount = authnCount

	r.fields.subjectConfirmations = extractSubjectConfirmations(scope)

	attrs, aerr := extractAttributes(scope, decryptionKeys)
	if aerr != nil {
		r.buildErrs = append(r.buildErrs, aerr)
	}
	r.fields.attributes = attrs
}

// IsValid runs the validation engine in either collect-errors or
// short-circuit mode and returns the single boolean verdict spec §6
// calls for. It is idempotent: repeated calls re-run the same
// deterministic predicates over already-memoized state and never
// accumulate duplicate errors across calls.
func (r *Response) IsValid(collectErrors bool) bool {
	return len(r.computeErrors(collectErrors)) == 0
}

// Errors returns the error messages from the most recent IsValid-style
// evaluation, always run in collect-errors mode so every independent
// problem is visible regardless of how IsValid was last called.
func (r *Response) Errors() []string {
	errs := r.computeErrors(true)
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Message)
	}
	return out
}

// Validate is the strict-mode entry point: nil on success, or a
// *ValidationError carrying the first failure on error. Internally it
// always accumulates (spec §9's "soft vs strict ... over a single
// internal implementation that always accumulates").
func (r *Response) Validate() error {
	errs := r.computeErrors(true)
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return &ValidationError{Kind: errs[0].Kind, Messages: msgs}
}

func (r *Response) computeErrors(collectErrors bool) []*fieldError {
	var errs []*fieldError
	errs = append(errs, r.buildErrs...)
	if !collectErrors && len(errs) > 0 {
		return errs
	}
	eng := &engine{r: r}
	errs = append(errs, eng.validate(collectErrors)...)
	return errs
}

// --- read-only accessors (spec §6) -----------------------------------------

func (r *Response) NameID() string {
	if r.fields == nil || r.fields.nameID == nil {
		return ""
	}
	return r.fields.nameID.Value
}

func (r *Response) NameIDFormat() string {
	if r.fields == nil || r.fields.nameID == nil {
		return ""
	}
	return r.fields.nameID.Format
}

func (r *Response) NameIDSPNameQualifier() string {
	if r.fields == nil || r.fields.nameID == nil {
		return ""
	}
	return r.fields.nameID.SPNameQualifier
}

func (r *Response) NameIDNameQualifier() string {
	if r.fields == nil || r.fields.nameID == nil {
		return ""
	}
	return r.fields.nameID.NameQualifier
}

func (r *Response) SessionIndex() string {
	if r.fields == nil || r.fields.authnStatement == nil {
		return ""
	}
	return r.fields.authnStatement.SessionIndex
}

func (r *Response) SessionExpiresAt() *time.Time {
	if r.fields == nil || r.fields.authnStatement == nil || r.fields.authnStatement.SessionNotOnOrAfter == nil {
		return nil
	}
	t := r.fields.authnStatement.SessionNotOnOrAfter.Time
	return &t
}

func (r *Response) Attributes() *Attributes {
	if r.fields == nil {
		return nil
	}
	return r.fields.attributes
}

func (r *Response) StatusCode() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.status.Code
}

func (r *Response) StatusMessage() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.status.Message
}

func (r *Response) Success() bool {
	return r.fields != nil && r.fields.status.Success
}

func (r *Response) NotBefore() *time.Time {
	if r.fields == nil || r.fields.conditions == nil || r.fields.conditions.NotBefore == nil {
		return nil
	}
	t := r.fields.conditions.NotBefore.Time
	return &t
}

func (r *Response) NotOnOrAfter() *time.Time {
	if r.fields == nil || r.fields.conditions == nil || r.fields.conditions.NotOnOrAfter == nil {
		return nil
	}
	t := r.fields.conditions.NotOnOrAfter.Time
	return &t
}

func (r *Response) Audiences() []string {
	if r.fields == nil || r.fields.conditions == nil {
		return nil
	}
	return r.fields.conditions.Audiences
}

func (r *Response) Issuers() []string {
	if r.fields == nil {
		return nil
	}
	return r.fields.responseIssuers
}

func (r *Response) InResponseTo() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.inResponseTo
}

func (r *Response) Destination() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.destination
}

func (r *Response) ResponseID() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.responseID
}

func (r *Response) AssertionID() string {
	if r.fields == nil {
		return ""
	}
	return r.fields.assertionID
}

func (r *Response) AssertionEncrypted() bool {
	return r.fields != nil && r.fields.encryptedAssertionCount > 0
}

// Document returns the original parsed DOM, for advanced callers (spec
// §6). Mutating it is the caller's responsibility and is not supported.
func (r *Response) Document() *etree.Document { return r.origDoc }

// DecryptedDocument returns the post-decrypt DOM, or nil when the
// Assertion was never encrypted.
func (r *Response) DecryptedDocument() *etree.Document { return r.decryptedDoc }
