package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chat-core/client"
	"chat-core/domain"
	"chat-core/transport"
)

// Exit codes for the client application.
const (
	exitOK      = 0
	exitRuntime = 1
	exitConfig  = 2
)

// Config defines the client-side environment variables.
type Config struct {
	ServerURL    string `env:"CHAT_SERVER_URL,default=http://localhost:8080"`
	Token        string `env:"CHAT_TOKEN,required=true"`
	Conversation string `env:"CHAT_CONVERSATION_ID,required=true"`
	HistoryLimit int    `env:"CHAT_HISTORY_LIMIT,default=50"`
	LogLevel     string `env:"LOG_LEVEL,default=info"`
}

func main() {
	code, err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Client error: %v\n", err)
	}
	os.Exit(code)
}

// run connects, joins the configured conversation, prints incoming frames
// and sends stdin lines as messages until interrupted.
func run() (int, error) {
	_ = godotenv.Load()
	var config Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return exitConfig, fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(log, client.Config{
		ServerURL:    config.ServerURL,
		Token:        config.Token,
		HistoryLimit: config.HistoryLimit,
	})
	if err := c.Connect(ctx); err != nil {
		return exitRuntime, err
	}
	defer c.Close()

	conversation := domain.ConversationID(config.Conversation)
	if err := c.Join(ctx, conversation); err != nil {
		return exitRuntime, err
	}
	for _, msg := range c.Timeline(conversation) {
		fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderID, msg.Content)
	}

	go render(c)

	scanner := bufio.NewScanner(os.Stdin)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return exitOK, nil
		case line, ok := <-lines:
			if !ok {
				return exitOK, nil
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.SendMessage(conversation, line); err != nil {
				return exitRuntime, err
			}
		}
	}
}

func render(c *client.Client) {
	for frame := range c.Frames() {
		switch frame.Type {
		case transport.FrameMessageReceived:
			if frame.Message != nil {
				fmt.Printf("[%s] %s: %s\n",
					frame.Message.CreatedAt.Format("15:04:05"),
					frame.Message.SenderID,
					frame.Message.Content)
			}
		case transport.FrameTypingState:
			if frame.IsTyping != nil && *frame.IsTyping {
				fmt.Printf("… %s is typing\n", frame.UserID)
			}
		case transport.FramePresenceChanged:
			state := "offline"
			if frame.IsOnline != nil && *frame.IsOnline {
				state = "online"
			}
			fmt.Printf("• %s is %s\n", frame.UserID, state)
		case transport.FrameDeliveryError:
			fmt.Printf("✗ send failed: %s\n", frame.Reason)
		}
	}
}
