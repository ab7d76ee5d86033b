package network

import (
	"log"

	"github.com/openmsn/gomsn/pkg/storage"
)

// archiveRecorder mirrors received chat messages into the archive.
type archiveRecorder struct {
	ListenerAdapter
	archive *storage.Archive
}

func (r *archiveRecorder) MessageReceived(msg Message) {
	if err := r.archive.SaveIncoming(msg.Account, msg.FriendlyName, msg.Body); err != nil {
		log.Printf("archiving message from %s failed: %v", msg.Account, err)
	}
}
