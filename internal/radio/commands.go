// Package radio builds and validates the $CMD control protocol spoken by the
// breathing radio firmware over its serial console.
package radio

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Define allow list of radio commands
var allowedCommands = []string{
	"PING",      // Liveness probe; firmware answers $OK,PING with version info
	"BLE_SCAN",  // Scan for nearby tags and report their addresses
	"BLE_CONN",  // Connect to a tag by MAC address
	"DF_START",  // Start direction-finding report streaming
	"DF_CONFIG", // Reconfigure channels / connection interval / CTE length
	"DF_STOP",   // Stop report streaming
	"CS_START",  // Start channel-sounding report streaming
	"CS_STOP",   // Stop channel-sounding report streaming
}

// IsAllowedCommand reports whether name is in the firmware's command set.
func IsAllowedCommand(name string) bool {
	name = strings.ToUpper(strings.TrimSpace(name))
	for _, cmd := range allowedCommands {
		if cmd == name {
			return true
		}
	}
	return false
}

var macPattern = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// Channel numbers the radio accepts. 37-39 are advertising channels and are
// never used for sounding.
const (
	MinChannel = 0
	MaxChannel = 36
)

// Connection interval constraints, in milliseconds. The firmware counts the
// interval in 1.25 ms units.
const (
	intervalUnitMS = 1.25
	minIntervalMS  = 7.5
	maxIntervalMS  = 4000.0
)

// Build renders a command line for the radio: $CMD,NAME[,key=value...].
// Parameters are validated per command and rendered in sorted key order so
// the output is deterministic.
func Build(name string, params map[string]string) (string, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if !IsAllowedCommand(name) {
		return "", fmt.Errorf("unknown command %q", name)
	}
	if err := validateParams(name, params); err != nil {
		return "", err
	}

	parts := []string{"$CMD", name}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, params[k]))
	}
	return strings.Join(parts, ","), nil
}

func validateParams(name string, params map[string]string) error {
	allowed := map[string]bool{}
	switch name {
	case "PING", "BLE_SCAN", "DF_STOP", "CS_STOP":
		// no parameters
	case "CS_START":
		allowed["channels"] = true
		allowed["interval_ms"] = true
	case "BLE_CONN":
		allowed["mac"] = true
		if params["mac"] == "" {
			return fmt.Errorf("BLE_CONN requires a mac parameter")
		}
	case "DF_START", "DF_CONFIG":
		allowed["channels"] = true
		allowed["interval_ms"] = true
		allowed["cte_len"] = true
	}

	for k, v := range params {
		if !allowed[k] {
			return fmt.Errorf("command %s does not accept parameter %q", name, k)
		}
		switch k {
		case "mac":
			if !macPattern.MatchString(v) {
				return fmt.Errorf("invalid mac %q: expected AA:BB:CC:DD:EE:FF", v)
			}
		case "channels":
			if _, err := ParseChannelList(v); err != nil {
				return err
			}
		case "interval_ms":
			if err := validateInterval(v); err != nil {
				return err
			}
		case "cte_len":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 255 {
				return fmt.Errorf("invalid cte_len %q: must be an integer in [0,255]", v)
			}
		}
	}
	return nil
}

func validateInterval(v string) error {
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid interval_ms %q", v)
	}
	if ms < minIntervalMS || ms > maxIntervalMS {
		return fmt.Errorf("interval_ms %v out of range [%v,%v]", ms, minIntervalMS, maxIntervalMS)
	}
	units := ms / intervalUnitMS
	if math.Abs(units-math.Round(units)) > 1e-9 {
		return fmt.Errorf("interval_ms %v is not a multiple of %v", ms, intervalUnitMS)
	}
	return nil
}

// ParseChannelList parses an operator channel expression into a sorted,
// deduplicated list. Both comma/range form ("3,5-7,10") and the firmware's
// pipe form ("3|10|25") are accepted.
func ParseChannelList(expr string) ([]int, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("empty channel list")
	}

	sep := ","
	if strings.Contains(expr, "|") {
		sep = "|"
	}

	seen := map[int]bool{}
	for _, token := range strings.Split(expr, sep) {
		token = strings.TrimSpace(token)
		if token == "" {
			return nil, fmt.Errorf("empty entry in channel list %q", expr)
		}
		lo, hi, isRange := strings.Cut(token, "-")
		start, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("invalid channel %q", token)
		}
		end := start
		if isRange {
			end, err = strconv.Atoi(strings.TrimSpace(hi))
			if err != nil {
				return nil, fmt.Errorf("invalid channel range %q", token)
			}
		}
		if end < start {
			return nil, fmt.Errorf("backwards channel range %q", token)
		}
		for ch := start; ch <= end; ch++ {
			if ch < MinChannel || ch > MaxChannel {
				return nil, fmt.Errorf("channel %d out of range [%d,%d]", ch, MinChannel, MaxChannel)
			}
			seen[ch] = true
		}
	}

	channels := make([]int, 0, len(seen))
	for ch := range seen {
		channels = append(channels, ch)
	}
	sort.Ints(channels)
	return channels, nil
}

// FormatChannelList renders channels in the pipe form the firmware expects.
func FormatChannelList(channels []int) string {
	parts := make([]string, len(channels))
	for i, ch := range channels {
		parts[i] = strconv.Itoa(ch)
	}
	return strings.Join(parts, "|")
}
