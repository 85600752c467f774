package common

import "regexp"

// CompileInsensitive compiles pattern as a case-insensitive regular expression.
func CompileInsensitive(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile("(?i)" + pattern)
}
