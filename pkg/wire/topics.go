// Package wire decodes and builds the JSON envelopes exchanged with the
// realtime transport. Decoders are structural: they return (value, true)
// only when the payload matches a known shape, and (nil, false) for
// everything else. They never panic and perform no I/O.
package wire

// Topic names on the realtime transport.
const (
	TopicChat      = "lk.chat"
	TopicUIEvents  = "lk.ui.events"
	TopicUIAcks    = "lk.ui.acks"
	TopicUIBlocks  = "lk.ui.blocks"
	TopicTimeline  = "lk.timeline.events"
	TopicClientLog = "lk.client.log"
)

// Transport attribute constants for UI payloads.
const (
	BlocksContentType = "application/vnd.ui-blocks+json"
	BlocksVersion     = "2"

	AttrContentType = "content-type"
	AttrVersion     = "version"

	// AttrUISurface marks which surface a block payload targets; payloads
	// marked SurfaceTask also feed the task store, keyed by AttrTaskID.
	AttrUISurface = "x-ui-surface"
	AttrTaskID    = "x-task-id"
	SurfaceTask   = "task"
)

// Schema discriminators carried inside payloads.
const (
	SchemaChatMessage = "chat_message@1"
	SchemaUserInput   = "user_input@1"
	SchemaUIBlocks    = "ui-blocks@2"
	SchemaClientLog   = "client.log@1"
)

// attrsMatch applies the soft content-type/version guard: attributes that
// are present must match the expected constants, absent attributes pass.
func attrsMatch(attrs map[string]string) bool {
	if attrs == nil {
		return true
	}
	if ct, ok := attrs[AttrContentType]; ok && ct != "" && ct != BlocksContentType {
		return false
	}
	if v, ok := attrs[AttrVersion]; ok && v != "" && v != BlocksVersion {
		return false
	}
	return true
}
