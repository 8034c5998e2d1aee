package recommender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMapper_Deterministic(t *testing.T) {
	a := BuildMapper([]int64{30, 10, 20, 10}, []int64{7, 3, 5})
	b := BuildMapper([]int64{20, 30, 10}, []int64{5, 5, 3, 7})

	assert.Equal(t, a.UserIDs(), b.UserIDs())
	assert.Equal(t, a.PlaceIDs(), b.PlaceIDs())
	assert.Equal(t, []int64{10, 20, 30}, a.UserIDs())
	assert.Equal(t, 3, a.NumUsers())
	assert.Equal(t, 3, a.NumPlaces())
}

func TestIdentifierMapper_Bijection(t *testing.T) {
	m := BuildMapper([]int64{42, 7}, []int64{100, 300, 200})

	for i := 0; i < m.NumPlaces(); i++ {
		id, err := m.ToExternalPlace(i)
		require.NoError(t, err)
		idx, err := m.ToInternalPlace(id)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
	for i := 0; i < m.NumUsers(); i++ {
		id, err := m.ToExternalUser(i)
		require.NoError(t, err)
		idx, err := m.ToInternalUser(id)
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}
}

func TestIdentifierMapper_UnknownIdentifiers(t *testing.T) {
	m := BuildMapper([]int64{1}, []int64{2})

	tests := []struct {
		name    string
		lookup  func() error
		match   error
		nomatch error
	}{
		{
			name:    "unknown user",
			lookup:  func() error { _, err := m.ToInternalUser(99); return err },
			match:   ErrUnknownUser,
			nomatch: ErrUnknownPlace,
		},
		{
			name:    "unknown place",
			lookup:  func() error { _, err := m.ToInternalPlace(99); return err },
			match:   ErrUnknownPlace,
			nomatch: ErrUnknownUser,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lookup()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnknownIdentifier)
			assert.ErrorIs(t, err, tt.match)
			assert.NotErrorIs(t, err, tt.nomatch)

			var idErr *UnknownIdentifierError
			require.ErrorAs(t, err, &idErr)
			assert.Equal(t, int64(99), idErr.ID)
		})
	}

	_, err := m.ToExternalPlace(5)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
	_, err = m.ToExternalUser(-1)
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestIdentifierMapper_ReturnsCopies(t *testing.T) {
	m := BuildMapper([]int64{1, 2}, []int64{3})
	ids := m.UserIDs()
	ids[0] = 500

	assert.True(t, m.HasUser(1))
	assert.False(t, m.HasUser(500))
	assert.True(t, m.HasPlace(3))
}
