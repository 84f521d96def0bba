package eapaka

import "strings"

// MatchNetworkName implements the colon-separated prefix match of
// RFC 5448 §3.1: the peer's configured name matches the server-sent
// name if the peer's name is a colon-separated prefix of the server's
// name, or the peer's name is empty.
//
//	match("a:b:c", "a:b:d") == false
//	match("a:b",   "a:b:c") == true
//	match("",      anything) == true
func MatchNetworkName(peer, server string) bool {
	if peer == "" {
		return true
	}
	peerParts := strings.Split(peer, ":")
	serverParts := strings.Split(server, ":")
	if len(peerParts) > len(serverParts) {
		return false
	}
	for i, p := range peerParts {
		if p != serverParts[i] {
			return false
		}
	}
	return true
}
