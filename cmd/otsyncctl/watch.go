package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/otsync/otsync/internal/protocol"
	"github.com/otsync/otsync/pkg/client"
	"github.com/otsync/otsync/pkg/ot"
)

// wsTransport adapts a websocket connection to pkg/client's Transport
// interface.
type wsTransport struct {
	ctx  context.Context
	conn *websocket.Conn
}

func (t *wsTransport) SendPush(revision int, op *ot.Operation) error {
	return wsjson.Write(t.ctx, t.conn, &protocol.ClientMsg{Push: &protocol.PushMsg{Revision: revision, Op: op}})
}

func (t *wsTransport) SendPull(revision int) error {
	return wsjson.Write(t.ctx, t.conn, &protocol.ClientMsg{Pull: &protocol.PullMsg{Revision: revision}})
}

var watchCmd = &cobra.Command{
	Use:   "watch <document-id>",
	Short: "Connect to a document and print its converging state as it changes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		docID := args[0]
		base := viper.GetString("server")

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		conn, _, err := websocket.Dial(ctx, base+"/api/socket/"+docID, nil)
		if err != nil {
			return fmt.Errorf("dial: %w", err)
		}
		defer conn.Close(websocket.StatusNormalClosure, "")

		c := client.New(&wsTransport{ctx: ctx, conn: conn})

		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					c.Tick()
				}
			}
		}()

		for {
			var msg protocol.ServerMsg
			if err := wsjson.Read(ctx, conn, &msg); err != nil {
				return fmt.Errorf("read: %w", err)
			}

			switch {
			case msg.InitialState != nil:
				c.HandleInitialState(msg.InitialState)
			case msg.Ack != nil:
				if err := c.HandleAck(msg.Ack); err != nil {
					fmt.Println("ack error:", err)
					continue
				}
			case msg.Update != nil:
				if err := c.HandleUpdate(msg.Update); err != nil {
					fmt.Println("update error:", err)
					continue
				}
			case msg.History != nil:
				if err := c.HandleHistory(msg.History); err != nil {
					fmt.Println("history error:", err)
					continue
				}
			case msg.Error != nil:
				fmt.Println("server error:", msg.Error.Message)
				continue
			}

			fmt.Printf("[%s] %q\n", c.State(), c.VirtualDoc())
		}
	},
}
