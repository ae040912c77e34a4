/*
File Name:  main.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

meshctl is a development harness that exercises the mesh stack over
local WebSocket links in lieu of real BLE radios, mirroring the role
webapi.Start plays for the wider Peernet stack: an HTTP surface a
developer can drive by hand while the core protocol runs underneath.
*/

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/google/uuid"

	"github.com/bitchat-mesh/mesh/chat"
	"github.com/bitchat-mesh/mesh/link"
	"github.com/bitchat-mesh/mesh/mesh"
	"github.com/bitchat-mesh/mesh/protocol"
	"github.com/bitchat-mesh/mesh/store"
)

func main() {
	configPath := flag.String("config", "meshctl.yaml", "path to the YAML config file")
	identityPath := flag.String("identity-db", "meshctl-identity.pogreb", "path to the identity store")
	forwardPath := flag.String("forward-db", "meshctl-forward.pogreb", "path to the store-and-forward cache")
	listen := flag.String("listen", ":8787", "address for the WebSocket link and debug HTTP API")
	nickname := flag.String("nick", "", "display name announced to the mesh")
	flag.Parse()

	cfg, err := mesh.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("meshctl: load config: %v", err)
	}
	if *nickname != "" {
		cfg.Nickname = *nickname
	}

	idStore, err := store.NewPogrebStore(*identityPath)
	if err != nil {
		log.Fatalf("meshctl: open identity store: %v", err)
	}
	fwdStore, err := store.NewPogrebStore(*forwardPath)
	if err != nil {
		log.Fatalf("meshctl: open forward store: %v", err)
	}

	console := newConsole()

	svc, err := mesh.New(cfg, idStore, fwdStore, mesh.Delegate{
		OnMessage: console.printMessage,
		OnConnect: func(peerID protocol.PeerID) {
			console.printf("* %s connected\n", peerID)
		},
		OnDisconnect: func(peerID protocol.PeerID) {
			console.printf("* %s disconnected\n", peerID)
		},
		OnChannelLeave: func(channel string, peerID protocol.PeerID) {
			console.printf("* %s left %s\n", peerID, channel)
		},
		GetNickname: func() string { return cfg.Nickname },
	})
	if err != nil {
		log.Fatalf("meshctl: new service: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := newAPI(svc)
	for _, addr := range []string{*listen} {
		go startHTTP(ctx, addr, api.Router)
	}

	go svc.Run(ctx)
	console.printf("meshctl: fingerprint %s, peer-id %s, listening on %s\n", svc.Fingerprint(), svc.Self(), *listen)

	go console.readCommands(svc)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	cancel()
	svc.Close()
	idStore.Close()
	fwdStore.Close()
}

// api exposes a small debug HTTP surface and upgrades incoming WebSocket
// connections into mesh Links, the same role WSUpgrader plays for the
// wider Peernet web API.
type api struct {
	svc    *mesh.Service
	Router *mux.Router
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func newAPI(svc *mesh.Service) *api {
	a := &api{svc: svc, Router: mux.NewRouter()}
	a.Router.HandleFunc("/status", a.handleStatus).Methods("GET")
	a.Router.HandleFunc("/link", a.handleLink)
	return a
}

func (a *api) handleStatus(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "peer-id: %s\nfingerprint: %s\n", a.svc.Self(), a.svc.Fingerprint())
}

func (a *api) handleLink(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("meshctl: websocket upgrade failed: %v", err)
		return
	}

	l := link.NewWebSocketLink(conn.RemoteAddr().String(), conn, 0)
	a.svc.AttachLink(r.Context(), l)
}

func startHTTP(ctx context.Context, addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Printf("meshctl: http server on %s stopped: %v", addr, err)
	}
}

// console renders delivered messages and reads slash-commands from stdin,
// the terminal equivalent of the application shell bitchat itself would
// provide around this package.
type console struct {
	currentChannel string
}

func newConsole() *console { return &console{} }

func (c *console) printf(format string, args ...interface{}) {
	fmt.Printf(format, args...)
}

func (c *console) printMessage(m *chat.Message) {
	prefix := "public"
	if m.Private {
		prefix = "private"
	}
	if m.HasChannel {
		prefix = m.Channel
	}
	c.printf("[%s] %s: %s\n", prefix, m.SenderName, m.Content)
}

func (c *console) readCommands(svc *mesh.Service) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if channel, password, ok := parseKeyCommand(line); ok {
			if err := svc.JoinChannel(channel, password); err != nil {
				c.printf("! join channel failed: %v\n", err)
			} else {
				c.currentChannel = channel
				c.printf("* joined %s\n", channel)
			}
			continue
		}

		cmd, err := chat.ParseCommand(line)
		if err == nil {
			c.runCommand(svc, cmd)
			continue
		}
		if err != chat.ErrNotACommand {
			c.printf("! %v\n", err)
			continue
		}

		if _, err := svc.SendPublic(line, c.currentChannel); err != nil {
			c.printf("! send failed: %v\n", err)
		}
	}
}

// parseKeyCommand recognizes a harness-local "/key <channel> <password>"
// line used to derive a channel cipher; it is not part of the wire
// protocol's command set, just local CLI sugar.
func parseKeyCommand(line string) (channel, password string, ok bool) {
	if !strings.HasPrefix(line, "/key ") {
		return "", "", false
	}
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return "", "", false
	}
	channel = fields[1]
	if !strings.HasPrefix(channel, "#") {
		channel = "#" + channel
	}
	return channel, fields[2], true
}

func (c *console) runCommand(svc *mesh.Service, cmd chat.Command) {
	switch cmd.Kind {
	case chat.CommandJoin:
		c.currentChannel = cmd.Channel
		c.printf("* joined %s (unencrypted; use /key to set a password)\n", cmd.Channel)

	case chat.CommandMessage:
		peerID, err := parsePeerID(cmd.Target)
		if err != nil {
			c.printf("! %v (this harness addresses /msg targets by hex peer-id)\n", err)
			return
		}
		if _, err := svc.SendPrivate(cmd.Text, peerID, uuid.NewString()); err != nil {
			c.printf("! send failed: %v\n", err)
		}

	case chat.CommandWho:
		c.printf("! peer listing is not wired to a directory snapshot in this harness\n")

	case chat.CommandFavorite:
		c.printf("! /fav %s: favorites are not recorded by this harness\n", cmd.Target)

	default:
		c.printf("! unsupported command\n")
	}
}

func parsePeerID(s string) (protocol.PeerID, error) {
	var id protocol.PeerID
	if len(s) != len(id)*2 {
		return id, fmt.Errorf("meshctl: peer-id must be %d hex chars", len(id)*2)
	}
	for i := range id {
		v, err := strconv.ParseUint(s[i*2:i*2+2], 16, 8)
		if err != nil {
			return id, err
		}
		id[i] = byte(v)
	}
	return id, nil
}

