package app

import (
	"errors"
	"time"

	"chatsync/pkg/logger"
	"chatsync/pkg/snapshot"
	"chatsync/pkg/transport"
	"chatsync/pkg/wire"
)

var subscribedTopics = []string{
	wire.TopicUIAcks,
	wire.TopicChat,
	wire.TopicTimeline,
	wire.TopicUIBlocks,
	wire.TopicUIEvents,
}

// enqueue is the subscription callback for every topic. Over-capacity
// deliveries are dropped and counted; the transport retransmits nothing,
// so a full queue means the UI view lags until the next snapshot.
func (a *App) enqueue(d transport.Delivery) {
	switch err := a.queue.TryEnqueue(d); {
	case err == nil:
	case errors.Is(err, transport.ErrQueueClosed):
		// late delivery during shutdown, nothing to account
	default:
		a.metrics.QueueDropped.Inc()
		logger.Warn("dispatch_queue_full", "topic", d.Topic)
		a.clog.Warn("dispatch queue full", map[string]any{"topic": d.Topic})
	}
}

// dispatch routes one delivery to its consumer. Decoders are structural:
// anything that fails to decode is dropped here, counted per topic.
func (a *App) dispatch(d transport.Delivery) {
	switch d.Topic {
	case wire.TopicUIAcks:
		ack, ok := wire.DecodeAck(d.Text(), d.Attrs)
		if !ok {
			a.dropPayload(d)
			return
		}
		a.sender.Resolve(ack)

	case wire.TopicChat:
		// IngestRaw degrades non-envelope text itself; nothing drops here
		a.conv.IngestRaw(d.Text(), deliveryTime(d))

	case wire.TopicTimeline:
		a.tl.IngestRaw(d.StreamID, d.Text())

	case wire.TopicUIBlocks:
		p, ok := wire.DecodeBlocks(d.Text(), d.Attrs)
		if !ok {
			a.dropPayload(d)
			return
		}
		a.snaps.PushBlocks([]*wire.BlockPayload{p})
		if d.Attrs[wire.AttrUISurface] == wire.SurfaceTask {
			taskID := d.Attrs[wire.AttrTaskID]
			if taskID == "" {
				taskID = p.RequestID
			}
			if taskID != "" {
				a.snaps.PushTasks([]snapshot.TaskView{{TaskID: taskID, Payload: p, Attrs: d.Attrs}})
			}
		}

	case wire.TopicUIEvents:
		ev, ok := wire.DecodeUIEvent(d.Text(), d.Attrs)
		if !ok {
			a.dropPayload(d)
			return
		}
		if cs, ok := snapshot.FoldUIEvent(ev, deliveryTime(d).UnixMilli()); ok {
			a.snaps.UpsertCalls([]snapshot.CallState{cs})
		}
		if ev.Name == wire.EventToolResult {
			var args wire.ToolResultArgs
			if ev.DecodeArgs(&args) {
				a.snaps.PushToolResultUI(args.CallID, args.UI)
			}
		}
	}
}

func (a *App) dropPayload(d transport.Delivery) {
	a.metrics.PayloadsDropped.WithLabelValues(d.Topic).Inc()
	logger.Debug("payload_undecodable", "topic", d.Topic, "stream", d.StreamID)
	a.clog.Warn("undecodable payload", map[string]any{"topic": d.Topic, "stream": d.StreamID})
}

func deliveryTime(d transport.Delivery) time.Time {
	if !d.Timestamp.IsZero() {
		return d.Timestamp
	}
	return time.Now()
}
