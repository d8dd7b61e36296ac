package dashboard

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
)

// handleAlertStream pushes the alert read model as server-sent events. The
// snapshot is sent on connect and again whenever it changes.
func (s *server) handleAlertStream(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
	c.Writer.Flush()

	var last []byte
	push := func() {
		a, err := loadAlerts(s.db)
		if err != nil {
			s.log.Warnw("alert stream: load alerts", "error", err)
			return
		}
		data, err := json.Marshal(a)
		if err != nil || bytes.Equal(data, last) {
			return
		}
		last = data
		fmt.Fprintf(c.Writer, "event: alerts\ndata: %s\n\n", data)
		c.Writer.Flush()
	}
	push()

	ctx := c.Request.Context()
	ticker := time.NewTicker(s.poll)
	heartbeat := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeSSE(c.Writer, "heartbeat", map[string]string{
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
			c.Writer.Flush()
		case <-ticker.C:
			push()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
