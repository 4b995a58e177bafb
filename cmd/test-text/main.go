package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/room4-2/CaterConverse/catalog"
	"github.com/room4-2/CaterConverse/dialogue"
	"github.com/room4-2/CaterConverse/logging"
	"github.com/room4-2/CaterConverse/session"
)

func main() {
	catalogFile := flag.String("catalog", "", "Optional provider YAML (embedded catalog when empty)")
	level := flag.String("log", "warn", "Log level")
	flag.Parse()

	logger, err := logging.New("development", *level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	providers, err := catalog.LoadProviders(*catalogFile)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	geocoder := catalog.NewGazetteer(catalog.ServiceAreas)
	cat, err := catalog.New(providers, geocoder, logger)
	if err != nil {
		log.Fatalf("Failed to build catalog: %v", err)
	}

	engine, err := dialogue.New(session.NewStore(nil, 0, logger), cat, geocoder, dialogue.Options{}, logger)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	const sessionID = "local"
	ctx := context.Background()

	fmt.Println("🤖 " + engine.Greeting())
	fmt.Print("> ")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "/quit":
			_ = engine.EndSession(ctx, sessionID)
			return
		case "/state":
			if c, ok := engine.Session(sessionID); ok {
				fmt.Printf("📊 stage=%s location=%q recommendations=%d turns=%d pending=%v\n",
					c.Stage, c.Location, len(c.Recommendations), c.UserTurns(), c.PendingActions)
			}
		default:
			reply, err := engine.HandleTurn(ctx, sessionID, line)
			if err != nil {
				fmt.Printf("❌ %v\n", err)
			} else {
				fmt.Println("🤖 " + reply)
			}
		}
		fmt.Print("> ")
	}
}
