package strategy

import (
	"fmt"
	"time"
)

// defaultDateFormats lists the layouts tried in order when no explicit
// formats param is given.
var defaultDateFormats = []string{
	"2006-01-02",
	"2006/01/02",
	"01/02/2006",
	"02-01-2006",
	"2006.01.02",
}

// DateStrategy normalizes a date string to YYYY-MM-DD. Params:
// {formats?, minYear?, maxYear?, timezone?}. Strategies must not depend
// on wall-clock time except here, where timezone is applied exactly as
// configured (spec.md §4.3 determinism note).
type DateStrategy struct{}

func (s *DateStrategy) layouts(params map[string]interface{}) ([]string, error) {
	raw, ok := params["formats"]
	if !ok {
		return defaultDateFormats, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("formats must be a list of layout strings")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("formats must be a list of layout strings")
		}
		out = append(out, s)
	}
	return out, nil
}

func (s *DateStrategy) loc(params map[string]interface{}) (*time.Location, error) {
	tz, ok := params["timezone"].(string)
	if !ok || tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

func (s *DateStrategy) ValidateParams(params map[string]interface{}) error {
	if _, err := s.layouts(params); err != nil {
		return err
	}
	if _, err := s.loc(params); err != nil {
		return err
	}
	return nil
}

func (s *DateStrategy) Validate(value string, params map[string]interface{}, _ Context) Result {
	layouts, err := s.layouts(params)
	if err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}
	loc, err := s.loc(params)
	if err != nil {
		return Result{OK: false, ErrorMessage: err.Error(), OriginalValue: value}
	}

	var parsed time.Time
	var parseErr error
	found := false
	for _, layout := range layouts {
		parsed, parseErr = time.ParseInLocation(layout, value, loc)
		if parseErr == nil {
			found = true
			break
		}
	}
	if !found {
		return Result{OK: false, ErrorMessage: "value is not a recognized date", OriginalValue: value}
	}

	if minYear, err := intParam(params, "minYear"); err == nil && minYear != nil && parsed.Year() < *minYear {
		return Result{OK: false, ErrorMessage: fmt.Sprintf("year must be >= %d", *minYear), OriginalValue: value}
	}
	if maxYear, err := intParam(params, "maxYear"); err == nil && maxYear != nil && parsed.Year() > *maxYear {
		return Result{OK: false, ErrorMessage: fmt.Sprintf("year must be <= %d", *maxYear), OriginalValue: value}
	}

	return Result{OK: true, Value: parsed.Format("2006-01-02")}
}
