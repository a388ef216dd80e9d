package provisioning

import "strings"

// Parser classifies inbound payloads.
type Parser struct {
	ScanToken string
}

// ParseCommand parses payload using the default scan token.
func ParseCommand(payload string) Command {
	return Parser{ScanToken: DefaultScanToken}.Parse(payload)
}

// Parse maps every payload to exactly one command. The scan token must match exactly (case-sensitive),
// otherwise the first colon splits ssid from password. Anything else, including an empty payload, is unknown.
func (p Parser) Parse(payload string) Command {
	token := p.ScanToken
	if token == "" {
		token = DefaultScanToken
	}

	if payload == token {
		return Command{Kind: CommandScan, Raw: payload}
	}

	if ssid, password, found := strings.Cut(payload, ":"); found {
		return Command{Kind: CommandCredentials, SSID: ssid, Password: password, Raw: payload}
	}

	return Command{Kind: CommandUnknown, Raw: payload}
}
