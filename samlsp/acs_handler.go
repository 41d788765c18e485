package samlsp

import (
	"net/http"

	"github.com/crewjam/httperr"
	"github.com/zenazn/goji"

	saml "github.com/insaplace/samlresponse"
)

// ACSHandler is a minimal demo of wiring the core validator to an HTTP
// Assertion Consumer Service endpoint. It is intentionally thin: it reads
// the SAMLResponse form field itself, but building Settings for the
// asserting IdP and deciding what a "session" is are left to the host
// (via SettingsFor and OnAssertion/Handler). Full binding support
// (redirects, relay state round-tripping, artifact resolution) is out of
// scope; this exists to show the shape of the integration point.
type ACSHandler struct {
	// SettingsFor resolves trust material for an inbound Response,
	// typically backed by a Registry keyed on Issuer.
	SettingsFor func(idpEntityID string) (*saml.Settings, error)

	// Options are applied to every Response parsed by this handler.
	Options saml.Options

	// OnAssertion is invoked with the validated Response. Any error it
	// returns is surfaced to the caller as a 500. Takes precedence over
	// Handler when both are set.
	OnAssertion func(r *http.Request, resp *saml.Response) error

	// Handler is an alternative to OnAssertion for callers that would
	// rather implement AssertionHandler than supply a closure, e.g. a
	// session-provisioning type with its own dependencies.
	Handler AssertionHandler
}

// ServeHTTP implements http.Handler by delegating to handle, which
// returns an error instead of writing one directly; ServeHTTP wraps it
// in httperr.Handler so a failure becomes a proper HTTP status response
// without every handler reimplementing that translation.
func (h *ACSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	httperr.Handler(h.handle).ServeHTTP(w, r)
}

func (h *ACSHandler) handle(w http.ResponseWriter, r *http.Request) error {
	if err := r.ParseForm(); err != nil {
		return httperr.Newf(http.StatusBadRequest, "unable to parse form: %s", err)
	}
	encoded := r.PostForm.Get("SAMLResponse")
	if encoded == "" {
		return httperr.Newf(http.StatusBadRequest, "missing SAMLResponse field")
	}

	// A first, untrusted parse just to read the Issuer: no Settings are
	// supplied yet, so New records a configuration error internally and
	// every signature/encryption predicate fails closed. Only Issuers(),
	// read unverified from the Response and any plaintext Assertion
	// before any trust decision is made, is safe to read from this pass.
	probe, err := saml.New(encoded, nil, saml.Options{})
	if err != nil {
		return httperr.Newf(http.StatusBadRequest, "malformed SAMLResponse: %s", err)
	}
	issuers := probe.Issuers()
	if len(issuers) == 0 {
		return httperr.Newf(http.StatusBadRequest, "SAMLResponse has no Issuer")
	}

	settings, err := h.SettingsFor(issuers[0])
	if err != nil {
		return httperr.Newf(http.StatusForbidden, "unknown issuer %q: %s", issuers[0], err)
	}

	resp, err := saml.New(encoded, settings, h.Options)
	if err != nil {
		return httperr.Newf(http.StatusBadRequest, "malformed SAMLResponse: %s", err)
	}
	if !resp.IsValid(true) {
		return httperr.Newf(http.StatusForbidden, "invalid SAMLResponse: %s", resp.Validate())
	}

	switch {
	case h.OnAssertion != nil:
		if err := h.OnAssertion(r, resp); err != nil {
			return httperr.Newf(http.StatusInternalServerError, "%s", err)
		}
	case h.Handler != nil:
		if err := h.Handler.HandleAssertion(resp); err != nil {
			return httperr.Newf(http.StatusInternalServerError, "%s", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Mount registers the ACS endpoint at path on goji's default mux, the
// way the teacher wires its own demo HTTP surfaces.
func Mount(path string, h *ACSHandler) {
	goji.Handle(path, h)
}
