package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/matchscore/internal/cache"
	"github.com/sells-group/matchscore/internal/matching"
	"github.com/sells-group/matchscore/internal/model"
)

// readRaw decodes a JSON object from path; "-" reads stdin.
func readRaw(path string, stdin io.Reader) (model.Raw, error) {
	var r io.Reader
	if path == "-" {
		r = stdin
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "open %s", path)
		}
		defer f.Close() //nolint:errcheck
		r = f
	}

	var raw model.Raw
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, eris.Wrapf(err, "decode %s", path)
	}
	return raw, nil
}

// resolveProfile loads the profile from a JSON file or, when only an id is
// given, from the store.
func resolveProfile(ctx context.Context, svc *matching.Service, path, id string, stdin io.Reader) (model.Profile, error) {
	switch {
	case path != "":
		raw, err := readRaw(path, stdin)
		if err != nil {
			return model.Profile{}, err
		}
		p := model.NormalizeProfile(raw)
		if id != "" {
			p.ID = id
		}
		return p, nil
	case id != "":
		return svc.Profile(ctx, id)
	default:
		return model.Profile{}, eris.New("one of --profile or --profile-id is required")
	}
}

// parseFilters turns key=value flags into query filters. Comma-separated
// values become sets.
func parseFilters(pairs []string) (map[string]any, error) {
	filters := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, eris.Errorf("invalid filter %q (want key=value)", pair)
		}
		if strings.Contains(value, ",") {
			filters[key] = splitAndTrim(value)
			continue
		}
		filters[key] = strings.TrimSpace(value)
	}
	return filters, nil
}

// parseSort reads "field" or "field:asc|desc".
func parseSort(s string) (cache.Sort, error) {
	if s == "" {
		return cache.Sort{}, nil
	}
	field, dir, _ := strings.Cut(s, ":")
	dir = strings.ToLower(strings.TrimSpace(dir))
	switch dir {
	case "", "asc", "desc":
	default:
		return cache.Sort{}, eris.Errorf("invalid sort direction %q", dir)
	}
	return cache.Sort{Field: strings.TrimSpace(field), Direction: dir}, nil
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

func formatMoney(amount float64) string {
	s := strconv.FormatInt(int64(amount), 10)
	if amount < 0 {
		s = s[1:]
	}
	var result []byte
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			result = append(result, ',')
		}
		result = append(result, byte(c))
	}
	if amount < 0 {
		return "-" + string(result)
	}
	return string(result)
}
