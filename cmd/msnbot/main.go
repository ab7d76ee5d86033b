// Package main provides a small presence and echo bot.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/openmsn/gomsn/pkg/network"
	"github.com/openmsn/gomsn/pkg/protocol"
)

// bot answers every chat message with a fixed reply.
type bot struct {
	network.ListenerAdapter
	session *network.Session
	reply   string
}

func (b *bot) MessageReceived(msg network.Message) {
	name := msg.FriendlyName
	if name == "" {
		name = msg.Account
	}
	fmt.Printf("💬 %s: %s\n", name, msg.Body)

	if b.reply == "" {
		return
	}
	if err := b.session.SendMessage(msg.Account, b.reply); err != nil {
		log.Printf("Reply to %s failed: %v", msg.Account, err)
	}
}

func (b *bot) ContactPropertyChanged(change network.PropertyChange) {
	if change.Property != network.PropertyStatus {
		return
	}
	fmt.Printf("👤 %s is now %s\n", change.Account, change.Value)
}

func (b *bot) Disconnected() {
	fmt.Println("🔌 Disconnected")
}

func main() {
	account := flag.String("user", "", "Account to sign in with")
	password := flag.String("pass", "", "Account password")
	status := flag.String("status", "NLN", "Initial presence status")
	dispatch := flag.String("dispatch", network.DefaultDispatchAddr, "Dispatch server address")
	reply := flag.String("reply", "", "Reply to send for every received message")

	flag.Parse()

	if *account == "" || *password == "" {
		log.Fatal("both -user and -pass are required")
	}

	fmt.Println("🤖 Messenger Bot")
	fmt.Println("================")
	fmt.Println()

	cfg := network.DefaultConfig(*account, *password)
	cfg.DispatchAddr = *dispatch
	if st := protocol.ParseStatus(*status); st != protocol.StatusUnknown {
		cfg.InitialStatus = st
	}

	session := network.NewSession(cfg)
	session.AddListener(&bot{session: session, reply: *reply})

	fmt.Printf("📡 Signing in as %s...\n", *account)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err := session.SignIn(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Sign-in failed: %v", err)
	}
	fmt.Println("✅ Signed in")

	if err := session.Synchronize(); err != nil {
		log.Printf("Synchronization request failed: %v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n🛑 Signing out...")
	session.SignOut()
	fmt.Println("👋 Goodbye!")
}
