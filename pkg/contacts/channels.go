package contacts

import "time"

// Request channels, consumed by the worker.
const (
	ChannelCreate  = "contacts.create"
	ChannelGetByID = "contacts.getbyid"
	ChannelGetAll  = "contacts.getall"
	ChannelUpdate  = "contacts.update"
	ChannelDelete  = "contacts.delete"
)

// Reply channels, consumed by the client.
const (
	ReplyCreate  = "contacts.rpc.reply"
	ReplyGetByID = "contacts.rpc.reply.getbyid"
	ReplyGetAll  = "contacts.rpc.reply.getall"
	ReplyUpdate  = "contacts.rpc.reply.update"
	ReplyDelete  = "contacts.rpc.reply.delete"
)

// ChannelChanged receives ContactChangedEvents by default.
const ChannelChanged = "contacts.changed"

// Default call timeouts.
const (
	DefaultPointTimeout = 15 * time.Second
	DefaultListTimeout  = 30 * time.Second
)

// RequestChannels lists every channel the worker consumes.
func RequestChannels() []string {
	return []string{ChannelCreate, ChannelGetByID, ChannelGetAll, ChannelUpdate, ChannelDelete}
}

// ReplyChannels lists every channel the client consumes.
func ReplyChannels() []string {
	return []string{ReplyCreate, ReplyGetByID, ReplyGetAll, ReplyUpdate, ReplyDelete}
}
