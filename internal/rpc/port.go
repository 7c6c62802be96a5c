package rpc

import (
	"strconv"
	"strings"
)

// DefaultPortFlag is the node's command line flag for its JSON-RPC port.
const DefaultPortFlag = "--jsonrpc-port"

// PortFromArgs finds flag in args as "flag N" or "flag=N". The last valid
// occurrence wins, matching how flag parsers treat repeats.
func PortFromArgs(args []string, flag string) (int, bool) {
	if flag == "" {
		return 0, false
	}
	port, found := 0, false
	for i := 0; i < len(args); i++ {
		var val string
		switch {
		case args[i] == flag && i+1 < len(args):
			val = args[i+1]
			i++
		case strings.HasPrefix(args[i], flag+"="):
			val = strings.TrimPrefix(args[i], flag+"=")
		default:
			continue
		}
		if n, err := strconv.Atoi(val); err == nil && n > 0 && n < 65536 {
			port, found = n, true
		}
	}
	return port, found
}
