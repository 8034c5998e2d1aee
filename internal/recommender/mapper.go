package recommender

import (
	"fmt"
	"slices"
)

// IdentifierMapper is a pair of bijections between external user/place ids and the dense
// zero-based indices the factorization models are laid out in. It is immutable once built.
type IdentifierMapper struct {
	users      []int64
	places     []int64
	userIndex  map[int64]int
	placeIndex map[int64]int
}

// BuildMapper assigns indices in ascending id order, so the result depends only on the set
// of ids and not on the order or multiplicity they were supplied in.
func BuildMapper(userIDs, placeIDs []int64) *IdentifierMapper {
	users := uniqueSorted(userIDs)
	places := uniqueSorted(placeIDs)

	m := &IdentifierMapper{
		users:      users,
		places:     places,
		userIndex:  make(map[int64]int, len(users)),
		placeIndex: make(map[int64]int, len(places)),
	}
	for i, id := range users {
		m.userIndex[id] = i
	}
	for i, id := range places {
		m.placeIndex[id] = i
	}
	return m
}

func uniqueSorted(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

func (m *IdentifierMapper) ToInternalUser(id int64) (int, error) {
	if idx, ok := m.userIndex[id]; ok {
		return idx, nil
	}
	return 0, &UnknownIdentifierError{Kind: kindUser, ID: id}
}

func (m *IdentifierMapper) ToInternalPlace(id int64) (int, error) {
	if idx, ok := m.placeIndex[id]; ok {
		return idx, nil
	}
	return 0, &UnknownIdentifierError{Kind: kindPlace, ID: id}
}

func (m *IdentifierMapper) ToExternalUser(index int) (int64, error) {
	if index < 0 || index >= len(m.users) {
		return 0, fmt.Errorf("user index %d: %w", index, ErrIndexOutOfRange)
	}
	return m.users[index], nil
}

func (m *IdentifierMapper) ToExternalPlace(index int) (int64, error) {
	if index < 0 || index >= len(m.places) {
		return 0, fmt.Errorf("place index %d: %w", index, ErrIndexOutOfRange)
	}
	return m.places[index], nil
}

func (m *IdentifierMapper) NumUsers() int  { return len(m.users) }
func (m *IdentifierMapper) NumPlaces() int { return len(m.places) }

// UserIDs returns the user ids in index order.
func (m *IdentifierMapper) UserIDs() []int64 { return slices.Clone(m.users) }

// PlaceIDs returns the place ids in index order.
func (m *IdentifierMapper) PlaceIDs() []int64 { return slices.Clone(m.places) }

// HasUser reports whether id was part of the last build.
func (m *IdentifierMapper) HasUser(id int64) bool {
	_, ok := m.userIndex[id]
	return ok
}

// HasPlace reports whether id was part of the last build.
func (m *IdentifierMapper) HasPlace(id int64) bool {
	_, ok := m.placeIndex[id]
	return ok
}
