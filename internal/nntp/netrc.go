package nntp

// Minimal .netrc lookup. Consulted only when a server entry has no
// configured credentials; a present entry means authentication is
// expected to be required.

import (
	"os"
	"path/filepath"
	"strings"
)

// netrcCredentials returns the login/password for host from ~/.netrc,
// or empty strings when the file or entry is absent.
func netrcCredentials(host string) (user, pass string) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", ""
	}
	data, err := os.ReadFile(filepath.Join(home, ".netrc"))
	if err != nil {
		return "", ""
	}
	return parseNetrc(string(data), host)
}

func parseNetrc(data, host string) (user, pass string) {
	tokens := strings.Fields(data)
	var curUser, curPass string
	matched := false
	flush := func() (string, string, bool) {
		if matched {
			return curUser, curPass, true
		}
		return "", "", false
	}
	for i := 0; i < len(tokens); i++ {
		switch tokens[i] {
		case "machine":
			if u, p, ok := flush(); ok {
				return u, p
			}
			curUser, curPass = "", ""
			if i+1 < len(tokens) {
				i++
				matched = tokens[i] == host
			}
		case "default":
			if u, p, ok := flush(); ok {
				return u, p
			}
			curUser, curPass = "", ""
			matched = true
		case "login":
			if i+1 < len(tokens) {
				i++
				curUser = tokens[i]
			}
		case "password":
			if i+1 < len(tokens) {
				i++
				curPass = tokens[i]
			}
		}
	}
	if u, p, ok := flush(); ok {
		return u, p
	}
	return "", ""
}
