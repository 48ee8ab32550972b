package model

import (
	"fmt"
	"strings"
)

// Stream tags a pipe as part of the supply (forward) or return half of a
// district-heating network. The tag is static; the flow it carries is not.
type Stream int

const (
	StreamUnknown Stream = iota
	StreamSupply
	StreamReturn
)

func (s Stream) String() string {
	switch s {
	case StreamSupply:
		return "supply"
	case StreamReturn:
		return "return"
	default:
		return "unknown"
	}
}

// ParseStream maps a file-level stream name onto a Stream. Empty input
// yields StreamUnknown without error so that untagged pipes can be
// reported later by the flow-direction resolver.
func ParseStream(s string) (Stream, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "supply", "forward", "flow":
		return StreamSupply, nil
	case "return", "backward":
		return StreamReturn, nil
	case "":
		return StreamUnknown, nil
	default:
		return StreamUnknown, fmt.Errorf("unknown stream %q", s)
	}
}
