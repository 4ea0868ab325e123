package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/transport"
)

// fixtureLine is one recorded delivery. delay_ms waits before delivering,
// so fixtures can reproduce arrival timing.
type fixtureLine struct {
	Topic   string            `json:"topic"`
	Text    string            `json:"text"`
	Attrs   map[string]string `json:"attrs,omitempty"`
	Stream  string            `json:"stream,omitempty"`
	DelayMs int               `json:"delay_ms,omitempty"`
}

// replayFile streams a JSONL fixture file into the loopback transport.
// Blank lines and #-comments are skipped.
func replayFile(ctx context.Context, lb *transport.Loopback, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var fx fixtureLine
		if err := json.Unmarshal([]byte(line), &fx); err != nil {
			return fmt.Errorf("fixture line %d: %w", lineNo, err)
		}
		if fx.Topic == "" {
			return fmt.Errorf("fixture line %d: missing topic", lineNo)
		}
		if fx.DelayMs > 0 {
			select {
			case <-time.After(time.Duration(fx.DelayMs) * time.Millisecond):
			case <-ctx.Done():
				return nil
			}
		}
		if ctx.Err() != nil {
			return nil
		}
		lb.DeliverFrom(fx.Topic, fx.Text, fx.Attrs, fx.Stream)
	}
	if err := sc.Err(); err != nil {
		return err
	}
	logger.Info("replay_complete", "path", path, "lines", lineNo)
	return nil
}
