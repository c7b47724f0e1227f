package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/matchscore/internal/cache"
)

func TestParseFilters(t *testing.T) {
	got, err := parseFilters([]string{"state=VA", "naics=541512, 541519", " agency = GSA "})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"state":  "VA",
		"naics":  []string{"541512", "541519"},
		"agency": "GSA",
	}, got)

	for _, bad := range []string{"state", "=VA"} {
		_, err := parseFilters([]string{bad})
		assert.Error(t, err, bad)
	}
}

func TestParseSort(t *testing.T) {
	tests := []struct {
		in      string
		want    cache.Sort
		wantErr bool
	}{
		{"", cache.Sort{}, false},
		{"matchScore", cache.Sort{Field: "matchScore"}, false},
		{"postedDate:ASC", cache.Sort{Field: "postedDate", Direction: "asc"}, false},
		{"matchScore:desc", cache.Sort{Field: "matchScore", Direction: "desc"}, false},
		{"matchScore:up", cache.Sort{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseSort(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadRaw(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opp.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"noticeId":"abc","naicsCode":"541512"}`), 0o644))

	raw, err := readRaw(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "abc", raw["noticeId"])

	raw, err = readRaw("-", strings.NewReader(`{"id":"p1"}`))
	require.NoError(t, err)
	assert.Equal(t, "p1", raw["id"])

	_, err = readRaw(filepath.Join(t.TempDir(), "missing.json"), nil)
	assert.Error(t, err)

	_, err = readRaw("-", strings.NewReader(`[1]`))
	assert.Error(t, err)
}

func TestResolveProfileFromFile(t *testing.T) {
	p, err := resolveProfile(t.Context(), nil, "-", "override",
		strings.NewReader(`{"id":"p1","companyName":"Acme","naicsCodes":["541512"]}`))
	require.NoError(t, err)
	assert.Equal(t, "override", p.ID)
	assert.Equal(t, []string{"541512"}, p.NAICSCodes)

	_, err = resolveProfile(t.Context(), nil, "", "", nil)
	assert.Error(t, err)
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "0", formatMoney(0))
	assert.Equal(t, "999", formatMoney(999))
	assert.Equal(t, "1,250,000", formatMoney(1250000))
	assert.Equal(t, "-12,000", formatMoney(-12000))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitAndTrim(" a, ,b,"))
	assert.Nil(t, splitAndTrim(""))
}
