package httpx

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/nicktill/tinysummary/pkg/period"
)

// AllProducts is the path segment naming the global, cross-product summary
const AllProducts = "_all"

// PeriodRoutes returns the path templates of a period-addressed resource under prefix,
// from the global all-time overview down to a single day.
func PeriodRoutes(prefix string) []string {
	return []string{
		prefix,
		prefix + "/{product}",
		prefix + "/{product}/{year:[0-9]+}",
		prefix + "/{product}/{year:[0-9]+}/{month:[0-9]+}",
		prefix + "/{product}/{year:[0-9]+}/{month:[0-9]+}/{day:[0-9]+}",
	}
}

// KeyFromRequest builds a validated period key from mux path variables.
// A missing product or "_all" selects the global summary.
func KeyFromRequest(r *http.Request) (period.Key, error) {
	vars := mux.Vars(r)

	key := period.Key{Product: vars["product"]}
	if key.Product == AllProducts {
		key.Product = ""
	}

	var err error
	if key.Year, err = pathInt(vars, "year"); err != nil {
		return period.Key{}, err
	}
	if key.Month, err = pathInt(vars, "month"); err != nil {
		return period.Key{}, err
	}
	if key.Day, err = pathInt(vars, "day"); err != nil {
		return period.Key{}, err
	}

	if err := key.Validate(); err != nil {
		return period.Key{}, err
	}
	return key, nil
}

func pathInt(vars map[string]string, name string) (int, error) {
	s, ok := vars[name]
	if !ok || s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("%w: bad %s %q", period.ErrInvalidKey, name, s)
	}
	return v, nil
}

// ProductSegment returns the path segment naming the key's product
func ProductSegment(key period.Key) string {
	if key.IsGlobal() {
		return AllProducts
	}
	return key.Product
}

// KeyPath renders key under prefix using the layout PeriodRoutes matches.
func KeyPath(prefix string, key period.Key) string {
	path := prefix + "/" + ProductSegment(key)
	if key.Year != 0 {
		path += "/" + strconv.Itoa(key.Year)
	}
	if key.Month != 0 {
		path += "/" + strconv.Itoa(key.Month)
	}
	if key.Day != 0 {
		path += "/" + strconv.Itoa(key.Day)
	}
	return path
}
