package catalog

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchErrorUnwraps(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	err := NewFetchError("https://example.com/list", cause)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "https://example.com/list", fe.URL)
	require.ErrorIs(t, err, cause)
}

func TestStoreErrorSurvivesWrapping(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("upsert movie: %w", NewStoreError("SET", errors.New("quota exceeded")))

	var se *StoreError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "SET", se.Command)
}

func TestValidationErrorMessage(t *testing.T) {
	t.Parallel()

	err := NewValidationError("bo-gia", "missing poster and thumb URLs")
	require.EqualError(t, err, `validate "bo-gia": missing poster and thumb URLs`)
}

func TestKeyHelpers(t *testing.T) {
	t.Parallel()

	require.Equal(t, "movieapp:movie_bo-gia", MovieKey("movieapp", "bo-gia"))
	require.Equal(t, "movieapp:id_to_slug_abc123", IDToSlugKey("movieapp", "abc123"))
	require.Equal(t, "movieapp:stream_detail_abc123_0_2", StreamDetailKey("movieapp", "abc123", 0, 2))
	require.Equal(t, "movieapp:precached_keys", RegistryKey("movieapp"))
}
