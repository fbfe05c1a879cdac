// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package main

import (
	"fmt"

	"grimm.is/breakwater/internal/testutil"
)

// scenarios maps scenario names to frame generators. The index parameter
// varies source addresses and ports so maps actually fill.
var scenarios = map[string]func(i int) []byte{
	"baseline": func(i int) []byte {
		return testutil.UDPFrame(
			fmt.Sprintf("10.1.%d.%d", i/250%250, i%250+1), "192.168.1.1",
			40000, 8080, []byte("hello"))
	},
	"synflood": func(i int) []byte {
		return testutil.TCPFrame(
			fmt.Sprintf("198.51.%d.%d", i/250%250, i%250+1), "192.168.1.1",
			uint16(1024+i%60000), 443,
			testutil.TCPFlags{SYN: true}, uint32(i)*7919, 0, nil)
	},
	"ackflood": func(i int) []byte {
		return testutil.TCPFrame(
			fmt.Sprintf("203.0.%d.%d", i/250%250, i%250+1), "192.168.1.1",
			uint16(1024+i%60000), 443,
			testutil.TCPFlags{ACK: true}, uint32(i)*104729, uint32(i), nil)
	},
	"dns-amp": func(i int) []byte {
		return testutil.UDPFrame(
			fmt.Sprintf("192.0.2.%d", i%250+1), "192.168.1.1",
			53, uint16(1024+i%60000), make([]byte, 600))
	},
	"ntp-monlist": func(i int) []byte {
		return testutil.UDPFrame(
			fmt.Sprintf("198.18.0.%d", i%250+1), "192.168.1.1",
			uint16(1024+i%60000), 123, testutil.NTPPayload(7, 8))
	},
	"fragments": func(i int) []byte {
		return testutil.FragmentFrame(
			fmt.Sprintf("172.16.%d.%d", i/250%250, i%250+1), "192.168.1.1",
			0, true, make([]byte, 16))
	},
	"udpflood": func(i int) []byte {
		return testutil.UDPFrame(
			fmt.Sprintf("100.64.%d.%d", i/250%250, i%250+1), "192.168.1.1",
			11211, uint16(1024+i%60000), make([]byte, 1450))
	},
	"portscan": func(i int) []byte {
		return testutil.TCPFrame(
			"192.0.2.66", "192.168.1.1",
			55555, uint16(i%64),
			testutil.TCPFlags{SYN: true}, uint32(i), 0, nil)
	},
}
