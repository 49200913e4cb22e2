package popup

import (
	"strconv"
	"strings"
)

// Feature is one key=value entry of the window feature string.
type Feature struct {
	Name  string
	Value int
}

// DefaultFeatures is the fixed window configuration the remote UI is
// designed against. Order is preserved when serialized.
var DefaultFeatures = []Feature{
	{Name: "titlebar", Value: 0},
	{Name: "toolbar", Value: 0},
	{Name: "status", Value: 0},
	{Name: "menubar", Value: 0},
	{Name: "resizable", Value: 0},
	{Name: "height", Value: 1200},
	{Name: "width", Value: 700},
	{Name: "popup", Value: 1},
}

// FeatureString serializes features as comma-joined key=value pairs.
func FeatureString(features []Feature) string {
	parts := make([]string, 0, len(features))
	for _, f := range features {
		parts = append(parts, f.Name+"="+strconv.Itoa(f.Value))
	}
	return strings.Join(parts, ",")
}

// ParseFeatures reads a feature string back into a lookup table. Malformed
// entries are skipped.
func ParseFeatures(s string) map[string]int {
	out := make(map[string]int)
	for _, part := range strings.Split(s, ",") {
		name, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			continue
		}
		out[name] = n
	}
	return out
}
