package utils

import (
	"crypto/subtle"
	"net/url"
	"path"
	"regexp"
	"strings"
	"unicode/utf8"
)

// SecretEqual compares two secrets in constant time.
func SecretEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

var invalidChars = regexp.MustCompile("([\u0000-\u0008]|[\u000B-\u000C]|[\u000E-\u001F])")

// CleanString removes any control characters from the passed in string
func CleanString(s string) string {
	cleaned := invalidChars.ReplaceAllString(s, "")

	// check whether this is valid UTF8
	if !utf8.ValidString(cleaned) || strings.Contains(cleaned, "\x00") {
		v := make([]rune, 0, len(cleaned))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}

			if r != 0 {
				v = append(v, r)
			}
		}
		cleaned = string(v)
	}

	return cleaned
}

// BasePathForURL, parse static URL, and return filename + format
func BasePathForURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return rawURL, err
	}
	return path.Base(parsedURL.Path), nil
}
