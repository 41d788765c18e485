package samlresponse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withFrozenClock(t *testing.T, at time.Time) {
	t.Helper()
	prev := TimeNow
	TimeNow = func() time.Time { return at }
	t.Cleanup(func() { TimeNow = prev })
}

func newTestResponse(settings *Settings, opts Options, fields *parsedFields) *Response {
	return &Response{
		raw:      "stub",
		settings: settings,
		opts:     opts,
		fields:   fields,
		scope:    &signedScope{},
	}
}

func TestVersionPredicate(t *testing.T) {
	r := newTestResponse(&Settings{}, Options{}, &parsedFields{version: "2.0"})
	assert.Nil(t, (&engine{r: r}).version())

	r.fields.version = "1.1"
	err := (&engine{r: r}).version()
	require.NotNil(t, err)
	assert.Equal(t, KindStructural, err.Kind)
}

func TestIDPredicate(t *testing.T) {
	r := newTestResponse(&Settings{}, Options{}, &parsedFields{responseID: ""})
	assert.NotNil(t, (&engine{r: r}).id())
	r.fields.responseID = "_resp1"
	assert.Nil(t, (&engine{r: r}).id())
}

func TestSuccessStatusPredicate(t *testing.T) {
	r := newTestResponse(&Settings{}, Options{}, &parsedFields{status: StatusInfo{Success: true, Code: StatusSuccess}})
	assert.Nil(t, (&engine{r: r}).successStatus())

	r.fields.status = StatusInfo{Success: false, Code: "Responder", Message: "denied"}
	err := (&engine{r: r}).successStatus()
	require.NotNil(t, err)
	assert.Equal(t, KindProfile, err.Kind)
	assert.Contains(t, err.Message, "denied")
}

func TestNumAssertionPredicate(t *testing.T) {
	r := newTestResponse(&Settings{}, Options{}, &parsedFields{plaintextAssertionCount: 1})
	assert.Nil(t, (&engine{r: r}).numAssertion())

	r.fields.plaintextAssertionCount = 0
	r.fields.encryptedAssertionCount = 2
	assert.NotNil(t, (&engine{r: r}).numAssertion())
}

func TestAudiencePredicate(t *testing.T) {
	settings := &Settings{SPEntityID: "https://sp.example.com"}
	r := newTestResponse(settings, Options{}, &parsedFields{conditions: &ConditionsInfo{Audiences: []string{"https://sp.example.com"}}})
	assert.Nil(t, (&engine{r: r}).audience())

	r.fields.conditions.Audiences = []string{"https://other.example.com"}
	err := (&engine{r: r}).audience()
	require.NotNil(t, err)
	assert.Equal(t, KindProfile, err.Kind)

	r.fields.conditions = nil
	assert.Nil(t, (&engine{r: r}).audience(), "no audience at all is accepted unless strict mode is on")

	settings.StrictAudienceValidation = true
	err = (&engine{r: r}).audience()
	require.NotNil(t, err)
}

func TestDestinationPredicate(t *testing.T) {
	settings := &Settings{AssertionConsumerServiceURL: "https://sp.example.com/acs"}
	r := newTestResponse(settings, Options{}, &parsedFields{destination: ""})
	assert.Nil(t, (&engine{r: r}).destination(), "spec open question: absent Destination is accepted")

	r.fields.destination = "https://sp.example.com/acs"
	assert.Nil(t, (&engine{r: r}).destination())

	r.fields.destination = "https://evil.example.com/acs"
	assert.NotNil(t, (&engine{r: r}).destination())
}

func TestIssuerPredicate(t *testing.T) {
	settings := &Settings{IDPEntityID: "https://idp.example.com"}
	r := newTestResponse(settings, Options{}, &parsedFields{responseIssuers: []string{"https://idp.example.com"}})
	assert.Nil(t, (&engine{r: r}).issuer())

	r.fields.responseIssuers = []string{"https://not-the-idp.example.com"}
	assert.NotNil(t, (&engine{r: r}).issuer())
}

func TestNameIDPredicate(t *testing.T) {
	settings := &Settings{WantNameID: true}
	r := newTestResponse(settings, Options{}, &parsedFields{})
	err := (&engine{r: r}).nameID()
	require.NotNil(t, err, "WantNameID requires a NameID to be present")

	r.fields.nameID = &NameIDInfo{Value: ""}
	err = (&engine{r: r}).nameID()
	require.NotNil(t, err, "an empty NameID value is never allowed")

	r.fields.nameID = &NameIDInfo{Value: "user-1", SPNameQualifier: "https://sp.example.com"}
	settings.SPEntityID = "https://sp.example.com"
	assert.Nil(t, (&engine{r: r}).nameID())

	settings.SPEntityID = "https://other-sp.example.com"
	assert.NotNil(t, (&engine{r: r}).nameID())
}

func TestConditionsPredicateClockDrift(t *testing.T) {
	withFrozenClock(t, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	notOnOrAfter := RelaxedTime{Time: time.Date(2026, 7, 31, 11, 59, 58, 0, time.UTC)}
	r := newTestResponse(&Settings{}, Options{AllowedClockDrift: 5}, &parsedFields{
		conditions: &ConditionsInfo{NotOnOrAfter: &notOnOrAfter},
	})
	assert.Nil(t, (&engine{r: r}).conditions(), "5s of allowed drift should cover a 2s-expired condition")

	r.opts = Options{AllowedClockDrift: 0}
	err := (&engine{r: r}).conditions()
	require.NotNil(t, err)
	assert.Equal(t, KindProfile, err.Kind)
}

func TestSessionExpirationPredicate(t *testing.T) {
	withFrozenClock(t, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))

	r := newTestResponse(&Settings{}, Options{}, &parsedFields{
		authnStatement: &AuthnStatementInfo{SessionNotOnOrAfter: &RelaxedTime{Time: time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)}},
	})
	assert.Nil(t, (&engine{r: r}).sessionExpiration())

	r.fields.authnStatement.SessionNotOnOrAfter = &RelaxedTime{Time: time.Date(2026, 7, 31, 11, 0, 0, 0, time.UTC)}
	assert.NotNil(t, (&engine{r: r}).sessionExpiration())
}

func TestSubjectConfirmationPredicate(t *testing.T) {
	withFrozenClock(t, time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
	settings := &Settings{AssertionConsumerServiceURL: "https://sp.example.com/acs"}
	r := newTestResponse(settings, Options{}, &parsedFields{
		inResponseTo: "_req1",
		subjectConfirmations: []SubjectConfirmationInfo{
			{
				Method: "urn:oasis:names:tc:SAML:2.0:cm:bearer",
				Data: &SubjectConfirmationDataInfo{
					NotOnOrAfter: &RelaxedTime{Time: time.Date(2026, 7, 31, 13, 0, 0, 0, time.UTC)},
					Recipient:    "https://sp.example.com/acs",
					InResponseTo: "_req1",
				},
			},
		},
	})
	assert.Nil(t, (&engine{r: r}).subjectConfirmation())

	r.fields.subjectConfirmations[0].Data.InResponseTo = "_wrong"
	err := (&engine{r: r}).subjectConfirmation()
	require.NotNil(t, err)
	assert.Equal(t, KindProfile, err.Kind)

	r.fields.subjectConfirmations = nil
	assert.NotNil(t, (&engine{r: r}).subjectConfirmation())
}

func TestResponseStateRequiresTrustAnchor(t *testing.T) {
	r := newTestResponse(&Settings{}, Options{}, &parsedFields{})
	err := (&engine{r: r}).responseState()
	require.NotNil(t, err)
	assert.Equal(t, KindConfiguration, err.Kind)

	r.settings.IDPCert = selfSignedTestCert()
	assert.Nil(t, (&engine{r: r}).responseState())
}
