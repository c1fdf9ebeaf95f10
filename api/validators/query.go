package validators

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/digistore-backend/pkg/errors"
)

// ParseQueryInt reads query parameter key. Absent means defaultVal; anything
// else must parse and fall inside [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return defaultVal, nil
	}
	details := map[string]any{"field": key, "min": min, "max": max}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min || n > max {
		msg := fmt.Sprintf("%s must be an integer between %d and %d", key, min, max)
		return 0, pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
	}
	return n, nil
}
