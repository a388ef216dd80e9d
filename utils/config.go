package utils

import (
	"encoding/json"
	"io/fs"
	"os"
	"slices"
	"time"

	errw "github.com/pkg/errors"
	"github.com/tidwall/jsonc"
)

const (
	BackendNetworkManager = "networkmanager"
	BackendWPASupplicant  = "wpa_supplicant"
)

var (
	DefaultConfiguration = Config{
		DeviceName:               "bleprov-setup",
		Interface:                "",
		Backend:                  BackendNetworkManager,
		ScanToken:                "SCANNN",
		ScanLimit:                10,
		ScanSettleDelay:          Timeout(time.Millisecond * 100),
		ScanTimeout:              Timeout(time.Second * 30),
		ConnectAttempts:          11,
		ConnectPollInterval:      Timeout(time.Millisecond * 500),
		PostConnectCommand:       nil,
		StopAdvertisingOnConnect: Tribool(0),
		NotifyChunkSize:          512,
		Debug:                    Tribool(0),
	}

	Backends = []string{BackendNetworkManager, BackendWPASupplicant}

	// Can be overwritten via cli arguments.
	ConfigFilePath = "/etc/bleprov.json"
)

//nolint:recvcheck
type Tribool int

func (b Tribool) Get() bool {
	return b > 0
}

func (b Tribool) IsSet() bool {
	return b != 0
}

func (b Tribool) MarshalJSON() ([]byte, error) {
	if b == 1 {
		return []byte("true"), nil
	}
	return []byte("false"), nil
}

func (b *Tribool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true":
		*b = 1
	case "false":
		*b = -1
	default:
		*b = 0
	}
	return nil
}

// Config is the on-disk configuration for the provisioning daemon, normally /etc/bleprov.json.
type Config struct {
	// Local name used in the BLE advertisement.
	DeviceName string `json:"device_name,omitempty"`

	// The wifi interface to manage. Ex: "wlan0"
	// Defaults to the first discovered 802.11 device.
	Interface string `json:"interface,omitempty"`

	// Which wifi subsystem to drive, "networkmanager" or "wpa_supplicant".
	Backend string `json:"backend,omitempty"`

	// Exact (case-sensitive) payload that triggers a wifi scan.
	ScanToken string `json:"scan_token,omitempty"`
	// Maximum number of unique networks reported per scan.
	ScanLimit int `json:"scan_limit,omitempty"`
	// Delay between dropping any association and starting the scan.
	ScanSettleDelay Timeout `json:"scan_settle_delay,omitempty"`
	// How long to wait for the radio to report scan completion.
	ScanTimeout Timeout `json:"scan_timeout,omitempty"`

	// Total number of connection status checks (the initial check plus retries).
	ConnectAttempts int `json:"connect_attempts,omitempty"`
	// Delay between connection status checks.
	ConnectPollInterval Timeout `json:"connect_poll_interval,omitempty"`

	// Command (argv) to run once after a successful connection. Empty disables.
	PostConnectCommand []string `json:"post_connect_command,omitempty"`
	// Stop BLE advertising once wifi is connected. Defaults to true when unset.
	StopAdvertisingOnConnect Tribool `json:"stop_advertising_on_connect,omitempty"`

	// Largest notification sent to the client, between 20 and 512. BlueZ truncates notifications
	// to the client's ATT MTU minus 3, so lower this for clients that negotiate a small MTU.
	NotifyChunkSize int `json:"notify_chunk_size,omitempty"`

	Debug Tribool `json:"debug,omitempty"`
}

func DefaultConfig() Config {
	cfg := Config{}
	// round-trip to get a deep copy of the default config
	defBytes, err := json.Marshal(DefaultConfiguration)
	if err != nil {
		panic(err)
	}
	err = json.Unmarshal(defBytes, &cfg)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfig reads a (json with comments) config file and layers it over the defaults.
// A missing file is not an error, the defaults are returned instead.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	//nolint:gosec
	b, err := os.ReadFile(path)
	if err != nil {
		if errw.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return cfg, errw.Wrapf(err, "reading config file %s", path)
	}

	if err := json.Unmarshal(jsonc.ToJSON(b), &cfg); err != nil {
		return DefaultConfig(), errw.Wrapf(err, "parsing config file %s", path)
	}

	return cfg, cfg.Validate()
}

// Validate fills zero values with defaults and rejects values that cannot work.
func (c *Config) Validate() error {
	def := DefaultConfiguration
	if c.DeviceName == "" {
		c.DeviceName = def.DeviceName
	}
	if c.Backend == "" {
		c.Backend = def.Backend
	}
	if !slices.Contains(Backends, c.Backend) {
		return errw.Errorf("unknown wifi backend %q, expected one of %v", c.Backend, Backends)
	}
	if c.ScanToken == "" {
		c.ScanToken = def.ScanToken
	}
	if c.ScanLimit <= 0 {
		c.ScanLimit = def.ScanLimit
	}
	if c.ScanSettleDelay < 0 {
		return errw.New("scan_settle_delay cannot be negative")
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = def.ScanTimeout
	}
	if c.ConnectAttempts <= 0 {
		c.ConnectAttempts = def.ConnectAttempts
	}
	if c.ConnectPollInterval <= 0 {
		c.ConnectPollInterval = def.ConnectPollInterval
	}
	if c.NotifyChunkSize == 0 {
		c.NotifyChunkSize = def.NotifyChunkSize
	}
	if c.NotifyChunkSize < 20 || c.NotifyChunkSize > 512 {
		return errw.Errorf("notify_chunk_size must be between 20 and 512, got %d", c.NotifyChunkSize)
	}
	return nil
}

type Timeout time.Duration

func (t Timeout) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(t).String())
}

// UnmarshalJSON accepts either a go duration string ("500ms") or a bare number of seconds.
func (t *Timeout) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*t = Timeout(value * float64(time.Second))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*t = Timeout(tmp)
		return nil
	default:
		return errw.Errorf("invalid duration: %#v", v)
	}
}

func (t Timeout) Get() time.Duration {
	return time.Duration(t)
}
