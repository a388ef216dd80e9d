package networking

import (
	"strings"

	"github.com/google/uuid"
	errw "github.com/pkg/errors"
	gnm "github.com/viamrobotics/gonetworkmanager/v2"
)

// This file contains the NetworkManager setting generation functions.

const connectionIDPrefix = "bleprov-"

func connectionID(ssid string) string {
	return connectionIDPrefix + ssid
}

func generateNetworkSettings(id, ifName, ssid, psk string) (gnm.ConnectionSettings, error) {
	if ssid == "" || id == "" {
		return nil, errw.New("ssid cannot be empty")
	}

	settings := gnm.ConnectionSettings{
		"connection": map[string]any{
			"id":          id,
			"uuid":        uuid.New().String(),
			"type":        "802-11-wireless",
			"autoconnect": true,
		},
		"802-11-wireless": map[string]any{
			"mode": "infrastructure",
			"ssid": []byte(ssid),
		},
		"ipv4": map[string]any{
			"method": "auto",
		},
		"ipv6": map[string]any{
			"method": "auto",
		},
	}

	if ifName != "" {
		settings["connection"]["interface-name"] = ifName
	}

	if psk != "" {
		settings["802-11-wireless-security"] = map[string]any{
			"key-mgmt": "wpa-psk",
			"psk":      psk,
		}
	}

	return settings, nil
}

func getIDFromSettings(settings gnm.ConnectionSettings) string {
	conn, ok := settings["connection"]
	if !ok {
		return ""
	}
	id, ok := conn["id"].(string)
	if !ok {
		return ""
	}
	return id
}

func parseWPAFlags(apFlags, wpaFlags, rsnFlags uint32) string {
	flags := []string{}
	if apFlags&uint32(gnm.Nm80211APFlagsPrivacy) != 0 && wpaFlags == uint32(gnm.Nm80211APSecNone) && rsnFlags == uint32(gnm.Nm80211APSecNone) {
		return "WEP"
	}

	if wpaFlags == uint32(gnm.Nm80211APSecNone) && rsnFlags == uint32(gnm.Nm80211APSecNone) {
		return SecurityOpen
	}

	if wpaFlags != uint32(gnm.Nm80211APSecNone) {
		flags = append(flags, "WPA1")
	}
	if rsnFlags&uint32(gnm.Nm80211APSecKeyMgmtPSK) != 0 || rsnFlags&uint32(gnm.Nm80211APSecKeyMgmt8021X) != 0 {
		flags = append(flags, "WPA2")
	}
	if rsnFlags&uint32(gnm.Nm80211APSecKeyMgmtSAE) != 0 {
		flags = append(flags, "WPA3")
	}
	if rsnFlags&uint32(gnm.Nm80211APSecKeyMgmtOWE) != 0 {
		flags = append(flags, "OWE")
	}
	if wpaFlags&uint32(gnm.Nm80211APSecKeyMgmt8021X) != 0 || rsnFlags&uint32(gnm.Nm80211APSecKeyMgmt8021X) != 0 {
		flags = append(flags, "802.1X")
	}

	return strings.Join(flags, " ")
}
