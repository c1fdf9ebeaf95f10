package enums

import (
	"fmt"
	"slices"
)

// parse returns the member of set spelled exactly like value.
func parse[T ~string](value string, set []T, kind string) (T, error) {
	if i := slices.Index(set, T(value)); i >= 0 {
		return set[i], nil
	}
	return "", fmt.Errorf("invalid %s %q", kind, value)
}
