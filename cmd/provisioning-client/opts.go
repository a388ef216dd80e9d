package main

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

var opts struct {
	BTScan   bool   `description:"Only list nearby bluetooth devices" long:"scan"`
	BTFilter string `default:"bleprov-setup"                     description:"Bluetooth Device Name Prefix" long:"filter" short:"f"`

	WifiSSID string `description:"SSID to join"            long:"ssid"`
	WifiPSK  string `description:"PSK/Password for wifi" long:"psk"`

	ScanToken string        `default:"SCANNN" description:"Command that asks the device for a wifi scan" long:"scan-token"`
	Timeout   time.Duration `default:"30s"    description:"How long to wait for a response"               long:"timeout"`
	ChunkSize int           `default:"512"    description:"Notification size the device is configured for" long:"chunk-size"`

	Networks bool `description:"List networks"          long:"networks" short:"n"`
	Help     bool `description:"Show this help message" long:"help"     short:"h"`
}

func parseOpts() bool {
	parser := flags.NewParser(&opts, flags.IgnoreUnknown)
	parser.Usage = "connects to a bleprov device over bluetooth to list networks or send wifi credentials."

	_, err := parser.Parse()
	if err != nil {
		panic(err)
	}

	if !opts.BTScan && !opts.Networks && opts.WifiSSID == "" {
		opts.Help = true
	}

	if opts.Help {
		var b bytes.Buffer
		parser.WriteHelp(&b)

		fmt.Println(b.String())
		return false
	}

	if opts.WifiPSK != "" && opts.WifiSSID == "" {
		fmt.Println("Error: --psk requires --ssid")
		return false
	}

	return true
}
