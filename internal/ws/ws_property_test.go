package ws

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/barelyworkingcode/eve/internal/session"
)

func TestHubBroadcastProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("broadcast reaches every authenticated client", prop.ForAll(
		func(numClients int, text string) bool {
			hub := NewHub()
			defer hub.Close()

			clients := make([]*Client, numClients)
			for i := range clients {
				clients[i] = NewClient(fmt.Sprintf("c%d", i), nil)
				clients[i].setAuthed()
				hub.Register(clients[i])
			}

			hub.Broadcast(session.F{"type": "system_message", "text": text})

			for _, c := range clients {
				data := <-c.send
				var frame map[string]interface{}
				if err := json.Unmarshal(data, &frame); err != nil {
					return false
				}
				if frame["type"] != "system_message" || frame["text"] != text {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 10),
		gen.AnyString(),
	))

	properties.Property("unauthenticated clients never receive broadcasts", prop.ForAll(
		func(text string) bool {
			hub := NewHub()
			defer hub.Close()

			pending := NewClient("pending", nil)
			hub.Register(pending)

			hub.Broadcast(session.F{"type": "system_message", "text": text})
			return len(pending.send) == 0
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestClientQueueProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("enqueued frames keep arrival order", prop.ForAll(
		func(texts []string) bool {
			c := NewClient("c", nil)
			defer c.Close()

			for i, text := range texts {
				if !c.Enqueue(session.F{"seq": i, "text": text}) {
					return false
				}
			}
			for i, text := range texts {
				var frame map[string]interface{}
				if err := json.Unmarshal(<-c.send, &frame); err != nil {
					return false
				}
				if int(frame["seq"].(float64)) != i || frame["text"] != text {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.AnyString()),
	))

	properties.Property("overflow closes the client instead of blocking", prop.ForAll(
		func(extra int) bool {
			c := NewClient("c", nil)
			for i := 0; i < cap(c.send)+extra; i++ {
				c.Enqueue(session.F{"seq": i})
			}
			return c.IsClosed()
		},
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
