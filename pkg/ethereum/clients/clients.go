// Package clients identifies consensus client implementations from the
// agent version peers announce over libp2p identify.
package clients

import "strings"

// Client represents a consensus client implementation.
type Client string

const (
	ClientUnknown    Client = "unknown"
	ClientLighthouse Client = "lighthouse"
	ClientNimbus     Client = "nimbus"
	ClientTeku       Client = "teku"
	ClientPrysm      Client = "prysm"
	ClientLodestar   Client = "lodestar"
	ClientGrandine   Client = "grandine"
	ClientCaplin     Client = "caplin"
	ClientTysm       Client = "tysm"
)

// AllConsensusClients contains all known consensus client implementations.
var AllConsensusClients = []Client{
	ClientLighthouse,
	ClientNimbus,
	ClientTeku,
	ClientPrysm,
	ClientLodestar,
	ClientGrandine,
	ClientCaplin,
	ClientTysm,
}

// ClientFromString identifies a client from a string identifier. It
// performs a case-insensitive search for known client names within the
// input. Returns ClientUnknown if no known client is identified.
func ClientFromString(client string) Client {
	asLower := strings.ToLower(client)

	for _, known := range AllConsensusClients {
		if strings.Contains(asLower, string(known)) {
			return known
		}
	}

	return ClientUnknown
}

// ParseAgentVersion splits a libp2p agent version such as
// "Lighthouse/v5.1.3-3058b96/x86_64-linux" into the client and its version.
// The version is empty when the agent does not carry one.
func ParseAgentVersion(agent string) (client Client, version string) {
	parts := strings.Split(agent, "/")

	client = ClientFromString(parts[0])
	if client == ClientUnknown {
		client = ClientFromString(agent)
	}

	if len(parts) > 1 && client != ClientUnknown {
		version = parts[1]
	}

	return client, version
}
