package schema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateNoSchemaIsNoop(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Validate("notes", []byte(`{"anything":1}`)))
}

func TestRegisterAndValidate(t *testing.T) {
	r := NewRegistry()
	err := r.Register("notes", []byte(`{
		"type": "object",
		"required": ["title"],
		"properties": {"title": {"type": "string"}}
	}`))
	require.NoError(t, err)

	require.NoError(t, r.Validate("notes", []byte(`{"title":"hi"}`)))

	err = r.Validate("notes", []byte(`{"title":1}`))
	require.Error(t, err)

	err = r.Validate("notes", []byte(`{}`))
	require.Error(t, err)
}

func TestUnregisterClearsSchema(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("notes", []byte(`{"type":"object","required":["x"]}`)))
	require.Error(t, r.Validate("notes", []byte(`{}`)))

	r.Unregister("notes")
	require.NoError(t, r.Validate("notes", []byte(`{}`)))
}
