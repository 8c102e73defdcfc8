package ts

import "github.com/pkg/errors"

// errShortPacket is returned by PID when the given slice is too short to
// be a complete transport packet.
var errShortPacket = errors.New("ts: packet shorter than PacketSize")
