// Package eventbus is the change-propagation fabric: a Bus abstraction
// with a NATS-backed implementation for servers and an in-process
// implementation for tests.
package eventbus

import "strings"

// channelSeparator replaces the path separator when deriving a pub/sub
// subject from a document path, since NATS subjects use '.' and
// document paths use '/'. Server publication dispatch and the client
// subscription runtime both call ChannelName so the derivation can
// never drift between them.
const channelSeparator = "."

// ChannelName derives the pub/sub subject for a path. kind
// distinguishes whether it's a collection-level or document-level
// channel, since both are published to on every write (clients
// subscribe to whichever granularity they need).
func ChannelName(workspaceID string, kind string, path string) string {
	transformed := strings.ReplaceAll(path, "/", channelSeparator)
	return "docbase." + workspaceID + "." + kind + "." + transformed
}

// CollectionChannel is the subject docbase.<workspaceID>.collection.<collectionPath>
// (with '/' replaced by '.') that listeners subscribe to for every
// create/update/delete directly under the collection.
func CollectionChannel(workspaceID, collectionPath string) string {
	return ChannelName(workspaceID, "collection", collectionPath)
}

// DocumentChannel is the subject a single document's own listeners
// subscribe to.
func DocumentChannel(workspaceID, docPath string) string {
	return ChannelName(workspaceID, "document", docPath)
}
