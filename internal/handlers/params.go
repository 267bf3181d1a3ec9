package handlers

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ternarybob/kissaten/internal/apperr"
)

func parseIntParam(q url.Values, name string) (*int, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("parameter %q must be an integer, got %q", name, raw))
	}
	return &v, nil
}

func parseFloatParam(q url.Values, name string) (*float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("parameter %q must be a number, got %q", name, raw))
	}
	return &v, nil
}

func parseBoolParam(q url.Values, name string) (*bool, error) {
	raw := q.Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil, apperr.Validation(fmt.Sprintf("parameter %q must be a boolean, got %q", name, raw))
	}
	return &v, nil
}
