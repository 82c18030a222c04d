package examtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qbank-server/models"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in   string
		want Key
		ok   bool
	}{
		{"jee main", JEE, true},
		{"JEE-MAINS", JEE, true},
		{"  Jee__Advanced ", JEE, true},
		{"jee\tmain", JEE, true},
		{"jee\fmain", JEE, true},
		{"jee\vmains", JEE, true},
		{"JEE\u00a0MAIN", JEE, true},
		{"NEET\u2003UG", NEET, true},
		{"\u3000neet\u3000", NEET, true},
		{"JEEMAINS", JEE, true},
		{"iitjee", JEE, true},
		{"IIT - JEE", JEE, true},
		{"neet", NEET, true},
		{"neet-ug", NEET, true},
		{"NEETUG", NEET, true},
		{"aipmt", NEET, true},
		{"CAT", "", false},
		{"", "", false},
		{"   ", "", false},
		{"---", "", false},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, ok := Normalize(tc.in)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for syn := range synonyms {
		first, ok := Normalize(syn)
		require.True(t, ok, syn)
		second, ok := Normalize(string(first))
		require.True(t, ok, syn)
		assert.Equal(t, first, second, syn)
	}
}

func TestNormalizeSynonymsAgree(t *testing.T) {
	a, _ := Normalize("jee main")
	b, _ := Normalize("JEE-MAINS")
	assert.Equal(t, a, b)
}

func TestParse(t *testing.T) {
	k, err := Parse("examType", "Neet UG")
	require.NoError(t, err)
	assert.Equal(t, NEET, k)

	_, err = Parse("examType", "gate")
	assert.True(t, models.IsValidation(err))

	_, err = Parse("examType", "")
	assert.True(t, models.IsValidation(err))
	assert.Contains(t, err.Error(), "examType")
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []Key{JEE, NEET}, Keys())
}
