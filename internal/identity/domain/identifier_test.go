package domain

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyIdentifier(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value string
		want  IdentifierKind
	}{
		{"42", IdentifierID},
		{"0001", IdentifierID},
		{"jordan@example.com", IdentifierEmail},
		{"first.last+tag@sub.example.co", IdentifierEmail},
		{"0198c5ac-71e0-7d9a-b1a2-3c4d5e6f7a8b", IdentifierUUID},
		{"a-b-c-d-e", IdentifierUUID},
		{"jordan", IdentifierUsername},
		{"jordan77", IdentifierUsername},
		{"not-a-uuid-at", IdentifierUsername},
		{"", IdentifierUsername},
		{"  42  ", IdentifierID},
		{"42a", IdentifierUsername},
		{"@example.com", IdentifierUsername},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, ClassifyIdentifier(tc.value), "value %q", tc.value)
	}
}

func TestValidUsername(t *testing.T) {
	t.Parallel()

	require.True(t, ValidUsername("jordan77"))
	require.True(t, ValidUsername("ABC"))
	require.False(t, ValidUsername(""))
	require.False(t, ValidUsername("jordan smith"))
	require.False(t, ValidUsername("jordan-smith"))
	require.False(t, ValidUsername("jordan@example.com"))
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	require.True(t, ValidEmail("a@b.co"))
	require.True(t, ValidEmail("first.last@sub.example.com"))
	require.False(t, ValidEmail("plainaddress"))
	require.False(t, ValidEmail("missing@tld"))
	require.False(t, ValidEmail("@example.com"))
}
