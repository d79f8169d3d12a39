package style

import (
	"fmt"
	"sort"
	"strings"

	"github.com/heroku/color"
)

// Symbol formats a value as an inline symbol, quoting it when color is disabled.
var Symbol = func(value string) string {
	if color.Enabled() {
		return Key(value)
	}
	return "'" + value + "'"
}

// Map formats a map of values as a single symbol, one pair per separator.
var Map = func(values map[string]string, prefix, separator string) string {
	result := ""

	var keys []string
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		result += fmt.Sprintf("%s%s=%s%s", prefix, key, values[key], separator)
	}

	if color.Enabled() {
		return Key(strings.TrimSpace(result))
	}

	return "'" + strings.TrimSpace(result) + "'"
}

var Key = color.HiBlueString

var Warn = color.New(color.FgYellow, color.Bold).SprintfFunc()

var Error = color.New(color.FgRed, color.Bold).SprintfFunc()

var Waiting = color.HiBlackString
