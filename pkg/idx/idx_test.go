package idx

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewIsSortable(t *testing.T) {
	t.Parallel()

	a := New()
	b := New()
	require.True(t, a.String() < b.String(), "ids from the monotonic source should sort by creation order")
}

func TestParse(t *testing.T) {
	t.Parallel()

	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	require.Equal(t, id, parsed)

	_, err = Parse("")
	require.ErrorIs(t, err, ErrInvalid)

	_, err = Parse("not-a-ulid")
	require.ErrorIs(t, err, ErrInvalid)
}

func TestTimeRoundTrip(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	id := NewAt(at)
	require.Equal(t, at, id.Time())
	require.Equal(t, time.Time{}, Zero.Time())
}
