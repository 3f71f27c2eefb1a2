package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/halyard-chat/halyard/internal/client"
	"github.com/halyard-chat/halyard/internal/wire"
)

const storePath = "client.sqlite"

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Client stopped")
	}
}

func run() error {
	if len(os.Args) < 3 {
		fmt.Fprintf(os.Stderr, "usage: %s <address> <name>\n", os.Args[0])
		return errors.New("missing arguments")
	}
	addr, name := os.Args[1], os.Args[2]

	ctx := context.Background()
	store, err := client.OpenStore(ctx, storePath, log.Logger)
	if err != nil {
		return fmt.Errorf("open local store: %w", err)
	}
	defer func() { _ = store.Close() }()

	stdin := bufio.NewReader(os.Stdin)
	connector := &client.Connector{
		Store: store,
		PromptPin: func() (string, error) {
			fmt.Println("To securely connect, data from the server (\"public key\") is needed.")
			fmt.Println("You can obtain the \"public key\" from the server owner.")
			fmt.Println("Enter the key here:")
			return readLine(stdin)
		},
		PromptPassword: func() (string, error) {
			fmt.Println("If you don't have an account, choose a new password here.")
			fmt.Println("Otherwise, enter your existing one.")
			fmt.Print("Password: ")
			return readLine(stdin)
		},
		Log: log.Logger,
	}

	session, err := connector.Connect(ctx, addr, name)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer func() { _ = session.Close() }()

	if session.Created {
		fmt.Println("Account created")
	}
	fmt.Printf("Logged in as user #%d\n", session.UserID)
	fmt.Println("Type \"help\" for commands.")

	lost := make(chan error, 1)
	go func() {
		for {
			p, err := session.Recv()
			if err != nil {
				lost <- err
				return
			}
			printEvent(p)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := readLine(stdin)
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case err := <-lost:
			if errors.Is(err, io.EOF) {
				fmt.Println("Server closed the connection.")
				return nil
			}
			return fmt.Errorf("connection lost: %w", err)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			quit, err := execute(session, line)
			if err != nil {
				return err
			}
			if quit {
				return nil
			}
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// execute runs one REPL command. Server replies and broadcasts are printed
// by the receive goroutine.
func execute(session *client.Session, line string) (quit bool, err error) {
	args := client.SplitCommand(line)
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "help":
		fmt.Println("send <channel-id> <text>    post a message")
		fmt.Println("history <channel-id>        fetch the latest messages")
		fmt.Println("typing <channel-id>         send a typing signal")
		fmt.Println("quit                        disconnect")
		return false, nil
	case "send":
		if len(args) < 3 {
			fmt.Println("usage: send <channel-id> <text>")
			return false, nil
		}
		ch, ok := parseID(args[1])
		if !ok {
			return false, nil
		}
		text := strings.Join(args[2:], " ")
		return false, session.Send(&wire.MessageCreate{Channel: ch, Text: []byte(text)})
	case "history":
		if len(args) < 2 {
			fmt.Println("usage: history <channel-id>")
			return false, nil
		}
		ch, ok := parseID(args[1])
		if !ok {
			return false, nil
		}
		return false, session.Send(&wire.MessageList{Channel: ch, Limit: wire.LimitMessageList})
	case "typing":
		if len(args) < 2 {
			fmt.Println("usage: typing <channel-id>")
			return false, nil
		}
		ch, ok := parseID(args[1])
		if !ok {
			return false, nil
		}
		return false, session.Send(&wire.Typing{Channel: ch})
	case "quit":
		return true, nil
	default:
		fmt.Printf("Unknown command %q. Type \"help\" for commands.\n", args[0])
		return false, nil
	}
}

func parseID(s string) (uint64, bool) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		fmt.Printf("%q is not a valid id\n", s)
		return 0, false
	}
	return id, true
}

func printEvent(p wire.Packet) {
	switch e := p.(type) {
	case *wire.MessageReceive:
		tag := ""
		if !e.New {
			tag = " (history)"
		}
		fmt.Printf("[#%d] user #%d%s: %s\n", e.Inner.Channel, e.Inner.Author, tag, e.Inner.Text)
	case *wire.MessageDeleteReceive:
		fmt.Printf("message #%d deleted\n", e.ID)
	case *wire.TypingReceive:
		fmt.Printf("[#%d] user #%d is typing…\n", e.Channel, e.Author)
	case *wire.ChannelReceive:
		fmt.Printf("channel #%d: %s\n", e.Inner.ID, e.Inner.Name)
	case *wire.ChannelDeleteReceive:
		fmt.Printf("channel #%d (%s) deleted\n", e.Inner.ID, e.Inner.Name)
	case *wire.RoleReceive:
		fmt.Printf("role #%d: %s\n", e.Inner.ID, e.Inner.Name)
	case *wire.RoleDeleteReceive:
		fmt.Printf("role #%d (%s) deleted\n", e.Inner.ID, e.Inner.Name)
	case *wire.UserReceive:
		fmt.Printf("user #%d: %s\n", e.Inner.ID, e.Inner.Name)
	case wire.Err:
		fmt.Printf("server error: code %d\n", uint8(e))
	case wire.RateLimited:
		fmt.Printf("rate limited, retry in %d s\n", uint64(e))
	case wire.Close:
		fmt.Println("Server said goodbye.")
	default:
		fmt.Printf("unhandled packet %T\n", p)
	}
}
