package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ageniuscoder/mmchat/client/internal/api"
	"github.com/ageniuscoder/mmchat/client/internal/channel"
	"github.com/ageniuscoder/mmchat/client/internal/config"
	"github.com/ageniuscoder/mmchat/client/internal/obs"
	"github.com/ageniuscoder/mmchat/client/internal/session"
	"github.com/ageniuscoder/mmchat/client/internal/typing"
	"github.com/joho/godotenv"
)

const requestTimeout = 10 * time.Second

func main() {
	username := flag.String("user", "", "username")
	password := flag.String("pass", "", "password")
	peerID := flag.Int64("peer", 0, "counterpart user id to chat with")
	signup := flag.Bool("signup", false, "create the account first")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.MustLoad()
	logger := obs.NewLogger(cfg.Env)

	if *username == "" || *password == "" || *peerID == 0 {
		log.Fatal("usage: mmclient -user <name> -pass <password> -peer <user id> [-signup]")
	}

	client := api.New(cfg.ServerURL, logger)
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var (
		userID int64
		err    error
	)
	if *signup {
		userID, err = client.Signup(ctx, *username, *password)
	} else {
		userID, err = client.Login(ctx, *username, *password)
	}
	if err != nil {
		log.Fatalf("auth failed: %v", err)
	}

	ch := channel.New(cfg.WSURL, logger)
	sess := session.New(userID, client, ch, logger)
	if err := sess.Start(ctx); err != nil {
		log.Fatalf("session start failed: %v", err)
	}
	defer sess.Close()

	openCtx, openCancel := context.WithTimeout(context.Background(), requestTimeout)
	conv, eng, tracker, err := sess.Open(openCtx, *peerID)
	openCancel()
	if err != nil {
		log.Fatalf("open conversation failed: %v", err)
	}

	fmt.Printf("chatting with %s (conversation %d)\n", conv.DisplayName(), conv.ID)
	for _, m := range eng.Messages() {
		printMessage(userID, m.SenderID, m.SenderUsername, m.Content)
	}
	fmt.Println(`type a message, or "/edit <id> <text>", "/del <id>", "/quit"`)

	go renderLoop(sess, tracker, conv.ID, userID)

	in := bufio.NewScanner(os.Stdin)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			return
		case strings.HasPrefix(line, "/edit "):
			id, text, ok := splitIDArg(strings.TrimPrefix(line, "/edit "))
			if !ok {
				fmt.Println("usage: /edit <id> <text>")
				continue
			}
			edCtx, edCancel := context.WithTimeout(context.Background(), requestTimeout)
			if err := sess.Edit(edCtx, conv.ID, id, text); err != nil {
				fmt.Printf("edit failed: %v\n", err)
			}
			edCancel()
		case strings.HasPrefix(line, "/del "):
			id, err := strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "/del ")), 10, 64)
			if err != nil {
				fmt.Println("usage: /del <id>")
				continue
			}
			if err := sess.Delete(conv.ID, id); err != nil {
				fmt.Printf("delete failed: %v\n", err)
			}
		default:
			tracker.Stop()
			if _, err := sess.Send(conv.ID, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}

// renderLoop polls the engine and typing tracker; a real UI would observe
// state instead, but the SDK exposes snapshots and a poll keeps the demo
// honest about that.
func renderLoop(sess *session.Session, tracker *typing.Tracker, conversationID, selfID int64) {
	eng := sess.Cache.Engine(conversationID)
	seen := make(map[int64]bool)
	remoteTyping := false
	for {
		time.Sleep(300 * time.Millisecond)
		if up := tracker.RemoteTyping(); up != remoteTyping {
			remoteTyping = up
			if up {
				fmt.Println("peer is typing...")
			}
		}
		for _, m := range eng.Messages() {
			if m.ID == 0 || seen[m.ID] || m.SenderID == selfID {
				if m.ID != 0 {
					seen[m.ID] = true
				}
				continue
			}
			seen[m.ID] = true
			printMessage(selfID, m.SenderID, m.SenderUsername, m.Content)
		}
	}
}

func printMessage(selfID, senderID int64, username, content string) {
	who := username
	if senderID == selfID {
		who = "you"
	}
	fmt.Printf("[%s] %s\n", who, content)
}

func splitIDArg(s string) (int64, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(s), " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, "", false
	}
	return id, parts[1], true
}
