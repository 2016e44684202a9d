package scope

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_Deterministic(t *testing.T) {
	a := &Campaign{
		Name:     "winter-2021",
		Networks: []string{"igs", "cors"},
		Years:    []int{2021, 2020},
		Stations: []string{"ABCD", "efgh"},
	}
	b := &Campaign{
		Name:     "renamed",
		Networks: []string{"cors", "igs"},
		Years:    []int{2020, 2021},
		Stations: []string{"efgh", "abcd"},
	}

	ha, err := Hash(a)
	require.NoError(t, err)
	hb, err := Hash(b)
	require.NoError(t, err)

	// Order and naming do not affect identity.
	assert.Equal(t, ha, hb)
	assert.Len(t, ha, 64)
}

func TestHash_SelectionChangesIdentity(t *testing.T) {
	base := &Campaign{Networks: []string{"igs"}, Years: []int{2021}}
	h1, err := Hash(base)
	require.NoError(t, err)

	widened := &Campaign{Networks: []string{"igs"}, Years: []int{2021, 2022}}
	h2, err := Hash(widened)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)

	windowed := &Campaign{Networks: []string{"igs"}, Years: []int{2021}, Days: &DayRange{From: 1, To: 90}}
	h3, err := Hash(windowed)
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}

func TestHash_InvalidCampaign(t *testing.T) {
	_, err := Hash(&Campaign{})
	assert.Error(t, err)
}
