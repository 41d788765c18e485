package samlresponse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttributesGetAllNames(t *testing.T) {
	attrs := newAttributes([]AttributeInfo{
		{Name: "email", Values: []AttributeValueInfo{{Value: "a@example.com"}}},
		{Name: "groups", Values: []AttributeValueInfo{{Value: "admins"}, {Value: "users"}}},
		{Name: "groups", Values: []AttributeValueInfo{{Value: "extra"}}},
		{Name: "nilled", Values: []AttributeValueInfo{{Nil: true}}},
	})

	v, ok := attrs.Get("email")
	assert.True(t, ok)
	assert.Equal(t, "a@example.com", v)

	all, ok := attrs.All("groups")
	assert.True(t, ok)
	assert.Equal(t, []string{"admins", "users", "extra"}, all)

	_, ok = attrs.Get("missing")
	assert.False(t, ok)

	nilled, ok := attrs.All("nilled")
	assert.True(t, ok, "attribute was present even though every value was xsi:nil")
	assert.Empty(t, nilled)

	assert.Equal(t, []string{"email", "groups", "nilled"}, attrs.Names())
}

func TestAttributesNilReceiver(t *testing.T) {
	var attrs *Attributes
	_, ok := attrs.Get("x")
	assert.False(t, ok)
	assert.Nil(t, attrs.Names())
}
