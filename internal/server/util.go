package server

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
	"unicode"

	"github.com/gin-gonic/gin"

	"github.com/loykin/nodevisor/internal/manager"
	"github.com/loykin/nodevisor/internal/nodeerr"
)

func sanitizeBase(bp string) string {
	bp = strings.TrimSpace(bp)
	if bp == "" || bp == "/" {
		return ""
	}
	if !strings.HasPrefix(bp, "/") {
		bp = "/" + bp
	}
	bp = strings.TrimRight(bp, "/")
	return bp
}

// validMethod accepts any non-empty JSON-RPC method name without whitespace
// or control characters. Names are otherwise passed to the node unchanged.
func validMethod(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
	}
	return true
}

// statusFor maps a command error to the HTTP status returned to the client.
func statusFor(err error) int {
	switch nodeerr.KindOf(err) {
	case nodeerr.KindConfigParse:
		return http.StatusBadRequest
	case nodeerr.KindAlreadyRunning, nodeerr.KindNotRunning:
		return http.StatusConflict
	case nodeerr.KindIO:
		if errors.Is(err, fs.ErrNotExist) {
			return http.StatusNotFound
		}
		return http.StatusInternalServerError
	case nodeerr.KindProcessSpawn:
		return http.StatusInternalServerError
	case nodeerr.KindRPCTransport, nodeerr.KindRPCParse:
		return http.StatusBadGateway
	}
	switch {
	case errors.Is(err, manager.ErrActorStopped):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func writeJSON(c *gin.Context, code int, v any) {
	c.Header("Content-Type", "application/json")
	c.Status(code)
	_ = json.NewEncoder(c.Writer).Encode(v)
}

func writeError(c *gin.Context, err error) {
	resp := errorResp{Error: err.Error()}
	if k := nodeerr.KindOf(err); k != 0 {
		resp.Kind = k.String()
	}
	writeJSON(c, statusFor(err), resp)
}
