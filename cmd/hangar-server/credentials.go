package main

import "strings"

// parseCredentials reads a flat "username:password" per line credentials
// file into a lookup map. Blank lines and lines without a colon are
// skipped.
func parseCredentials(raw string) map[string]string {
	creds := map[string]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		creds[line[:idx]] = line[idx+1:]
	}
	return creds
}
