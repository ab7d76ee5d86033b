// Package main provides the HTTP API server in front of a messenger
// session.
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

	"github.com/openmsn/gomsn/pkg/api"
	"github.com/openmsn/gomsn/pkg/network"
	"github.com/openmsn/gomsn/pkg/protocol"
	"github.com/openmsn/gomsn/pkg/storage"
)

func main() {
	account := flag.String("user", "", "Account to sign in with")
	password := flag.String("pass", "", "Account password")
	status := flag.String("status", "NLN", "Initial presence status")
	dispatch := flag.String("dispatch", network.DefaultDispatchAddr, "Dispatch server address")
	apiPort := flag.Int("api-port", 8080, "HTTP API port")
	dbPath := flag.String("db", "./messages.db", "Message archive path")
	enableCORS := flag.Bool("cors", true, "Enable CORS headers")
	rateLimit := flag.Int("rate-limit", 100, "Rate limit (requests per minute)")

	flag.Parse()

	if *account == "" || *password == "" {
		log.Fatal("both -user and -pass are required")
	}

	fmt.Println("🚀 Messenger API Server")
	fmt.Println("=======================")
	fmt.Println()

	archive, err := storage.OpenArchive(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open archive: %v", err)
	}
	defer archive.Close()

	cfg := network.DefaultConfig(*account, *password)
	cfg.DispatchAddr = *dispatch
	if st := protocol.ParseStatus(*status); st != protocol.StatusUnknown {
		cfg.InitialStatus = st
	}

	session := network.NewSession(cfg)
	session.AttachArchive(archive)

	fmt.Printf("📡 Signing in as %s...\n", *account)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	err = session.SignIn(ctx)
	cancel()
	if err != nil {
		log.Fatalf("Sign-in failed: %v", err)
	}
	fmt.Println("✅ Signed in")

	if err := session.Synchronize(); err != nil {
		log.Printf("Synchronization request failed: %v", err)
	}

	apiConfig := &api.Config{
		Port:       *apiPort,
		EnableCORS: *enableCORS,
		RateLimit:  *rateLimit,
	}
	apiServer := api.NewServer(session, archive, apiConfig)

	apiCtx, apiCancel := context.WithCancel(context.Background())
	defer apiCancel()

	go func() {
		if err := apiServer.Start(apiCtx); err != nil {
			log.Printf("API server error: %v", err)
		}
	}()

	fmt.Println()
	fmt.Println("✅ Server is ready!")
	fmt.Println()
	fmt.Println("API Endpoints:")
	fmt.Printf("  GET    http://localhost:%d/api/v1/status\n", *apiPort)
	fmt.Printf("  PUT    http://localhost:%d/api/v1/status\n", *apiPort)
	fmt.Printf("  PUT    http://localhost:%d/api/v1/name\n", *apiPort)
	fmt.Printf("  GET    http://localhost:%d/api/v1/contacts\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/contacts\n", *apiPort)
	fmt.Printf("  DELETE http://localhost:%d/api/v1/contacts/:account\n", *apiPort)
	fmt.Printf("  POST   http://localhost:%d/api/v1/messages\n", *apiPort)
	fmt.Printf("  GET    http://localhost:%d/api/v1/history/:account\n", *apiPort)
	fmt.Printf("  GET    http://localhost:%d/health\n", *apiPort)
	fmt.Println()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\n🛑 Shutting down...")
	apiCancel()
	session.SignOut()
	fmt.Println("👋 Goodbye!")
}
