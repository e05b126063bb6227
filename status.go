package smelt

// Contains the status updater, which publishes JSON-encoded messages giving
// the latest session state to any interested clients.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// StatusUpdate carries the messages to be published on the status port.
type StatusUpdate struct {
	Tag     string
	Message interface{}
}

// RunStatusUpdater forwards any message from its input channel to a ZMQ PUB
// socket, as a two-frame message: the tag, then the JSON-encoded body. It
// returns when the messages channel is closed.
func RunStatusUpdater(messages <-chan StatusUpdate, portstatus int) {
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		ProblemLogger.Printf("could not create status PUB socket: %v", err)
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(fmt.Sprintf("tcp://*:%d", portstatus)); err != nil {
		ProblemLogger.Printf("could not bind status PUB socket: %v", err)
		return
	}

	for update := range messages {
		body, err := json.Marshal(update.Message)
		if err != nil {
			ProblemLogger.Printf("could not marshal status update %q: %v", update.Tag, err)
			continue
		}
		if _, err := pubSocket.SendMessage(update.Tag, body); err != nil {
			return
		}
	}
}
