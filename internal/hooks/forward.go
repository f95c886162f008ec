package hooks

import (
	"bytes"
	"encoding/json"
	"errors"
	"net"
	"time"
)

const forwardTimeout = 2 * time.Second

// Forward wraps an agent hook payload in the bridge envelope and writes it
// as one line to the socket. kind is "hook" for claude and "codex" for
// codex notify payloads. Used by the `workdeck hook` subcommands running
// inside agent processes.
func Forward(socketPath, paneID, kind string, payload []byte) error {
	if socketPath == "" || paneID == "" {
		return errors.New("socket path and pane id are required")
	}
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !json.Valid(payload) {
		return errors.New("payload is not valid JSON")
	}

	envelope, err := json.Marshal(map[string]json.RawMessage{
		"pane_id": mustJSONString(paneID),
		kind:      payload,
	})
	if err != nil {
		return err
	}

	conn, err := net.DialTimeout("unix", socketPath, forwardTimeout)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(forwardTimeout))
	_, err = conn.Write(append(envelope, '\n'))
	return err
}

func mustJSONString(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}
