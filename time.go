package samlresponse

import (
	"encoding/xml"
	"strings"
	"time"
)

// TimeNow is overridable in tests, mirroring the teacher's package-level
// clock seam (ServiceMultipleProvider.Metadata uses the same pattern).
var TimeNow = func() time.Time { return time.Now().UTC() }

// clockDriftEpsilon prevents boundary flaps when a comparison lands
// exactly on allowed_clock_drift; see spec §4.5 "Clock drift".
const clockDriftEpsilon = 1 * time.Millisecond

// RelaxedTime parses the handful of ISO-8601 UTC layouts IdPs actually
// emit for SAML timestamps: with or without fractional seconds, with a
// trailing "Z" (SAML never legitimately uses a non-Z offset, but some
// IdPs emit one anyway).
type RelaxedTime struct {
	time.Time
}

var relaxedTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999Z",
	"2006-01-02T15:04:05Z",
	time.RFC3339Nano,
	time.RFC3339,
}

// ParseRelaxedTime parses a SAML timestamp string, returning an error only
// when none of the tolerated layouts match.
func ParseRelaxedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range relaxedTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, lastErr
}

// UnmarshalXMLAttr implements xml.UnmarshalerAttr.
func (r *RelaxedTime) UnmarshalXMLAttr(attr xml.Attr) error {
	if attr.Value == "" {
		r.Time = time.Time{}
		return nil
	}
	t, err := ParseRelaxedTime(attr.Value)
	if err != nil {
		return err
	}
	r.Time = t
	return nil
}

// MarshalXMLAttr implements xml.MarshalerAttr.
func (r RelaxedTime) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if r.Time.IsZero() {
		return xml.Attr{Name: name}, nil
	}
	return xml.Attr{Name: name, Value: r.Time.UTC().Format("2006-01-02T15:04:05.999Z")}, nil
}
