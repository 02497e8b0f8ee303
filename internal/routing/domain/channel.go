package domain

import (
	"fmt"
	"strings"
)

// Channel is the fulfillment channel an offer must be booked through.
// The zero value is not a valid channel.
type Channel uint8

const (
	ChannelConsolidator Channel = iota + 1
	ChannelDuffel
)

// FallbackChannel is used whenever a cached decision cannot be honored.
const FallbackChannel = ChannelDuffel

// Channels lists every channel in a stable order.
func Channels() []Channel {
	return []Channel{ChannelConsolidator, ChannelDuffel}
}

func (c Channel) String() string {
	switch c {
	case ChannelConsolidator:
		return "CONSOLIDATOR"
	case ChannelDuffel:
		return "DUFFEL"
	default:
		return fmt.Sprintf("Channel(%d)", uint8(c))
	}
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelConsolidator, ChannelDuffel:
		return true
	default:
		return false
	}
}

// ParseChannel parses the text form of a channel. Matching is case-insensitive.
func ParseChannel(raw string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CONSOLIDATOR":
		return ChannelConsolidator, nil
	case "DUFFEL":
		return ChannelDuffel, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, raw)
	}
}

func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, uint8(c))
	}
	return []byte(c.String()), nil
}

func (c *Channel) UnmarshalText(text []byte) error {
	parsed, err := ParseChannel(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}
