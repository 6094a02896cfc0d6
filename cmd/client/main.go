package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/term"

	"github.com/parleychat/parley/pkg/client"
	"github.com/parleychat/parley/pkg/protocol"
	"github.com/parleychat/parley/pkg/transport"
	"github.com/parleychat/parley/pkg/trust"
)

var (
	// Version is set at build time via ldflags
	Version = "dev"
)

// ui prints server events and tracks the channel messages go to.
type ui struct {
	mu      sync.Mutex
	current int
}

func (u *ui) currentChannel() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.current
}

func (u *ui) HandleBroadcast(n protocol.BroadcastNotice) {
	fmt.Printf("[%d] <%s> %s\n", n.ChannelID, n.Sender, n.Message)
}

func (u *ui) HandleMemberJoined(n protocol.ChannelNotice) {
	fmt.Printf("[%d] * %s\n", n.ChannelID, n.Message)
}

func (u *ui) HandleMemberLeft(n protocol.ChannelNotice) {
	fmt.Printf("[%d] * %s\n", n.ChannelID, n.Message)
}

func (u *ui) HandleUserList(l protocol.UserList) {
	if len(l.Names) == 0 {
		fmt.Printf("[%d] no users visible\n", l.ChannelID)
		return
	}
	fmt.Printf("[%d] users: %s\n", l.ChannelID, strings.Join(l.Names, ", "))
}

func (u *ui) HandleChannelList(l protocol.ChannelList) {
	fmt.Printf("channels: %s\n", strings.Join(l.Names, ", "))
}

func (u *ui) HandleJoined(r protocol.JoinResponse) {
	u.mu.Lock()
	u.current = r.ChannelID
	u.mu.Unlock()
	fmt.Printf("joined #%s (channel %d)\n", r.Name, r.ChannelID)
}

func (u *ui) HandleLeft(channelID int) {
	u.mu.Lock()
	if u.current == channelID {
		u.current = 0
	}
	u.mu.Unlock()
	fmt.Printf("left channel %d\n", channelID)
}

func (u *ui) HandleClosed(reason string) {
	if reason == "" {
		fmt.Println("server closed the connection")
		return
	}
	fmt.Printf("server closed the connection: %s\n", reason)
}

// promptYesNo asks the operator to confirm an unknown certificate.
func promptYesNo(fingerprint string) bool {
	fmt.Printf("Unknown server certificate:\n  SHA-256 %s\nTrust it? [y/N] ", fingerprint)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// promptPassword reads the keystore password without echoing it.
func promptPassword() (string, error) {
	fmt.Print("Keystore password: ")
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(password), nil
}

func main() {
	log.SetFlags(0)

	addr := flag.String("addr", fmt.Sprintf("localhost:%d", transport.DefaultPort), "Server address")
	nickname := flag.String("nick", "", "Nickname to announce")
	useTLS := flag.Bool("tls", false, "Connect with TLS")
	keystorePath := flag.String("keystore", trust.DefaultKeystorePath, "Trusted certificate store")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("Parley Client %s\n", Version)
		os.Exit(0)
	}
	if *nickname == "" {
		log.Fatal("a nickname is required (-nick)")
	}

	opts := client.Options{
		Address:  *addr,
		Nickname: *nickname,
		Handler:  &ui{},
	}
	if *useTLS {
		store, err := trust.NewStore(
			trust.NewFileKeystore(*keystorePath),
			trust.PrompterFunc(promptYesNo),
			promptPassword,
		)
		if err != nil {
			log.Fatalf("Failed to open trust store: %v", err)
		}
		opts.UseTLS = true
		opts.TrustStore = store
	}

	conn, err := client.Connect(opts)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}

	go func() {
		<-conn.Done()
		if err := conn.Err(); err != nil {
			log.Fatalf("Connection lost: %v", err)
		}
		os.Exit(0)
	}()

	fmt.Println("commands: /join <name>, /leave [id], /users [id], /channels, /quit")
	handler := opts.Handler.(*ui)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := handleLine(conn, handler, line); err != nil {
			if err == errQuit {
				conn.Close()
				return
			}
			fmt.Printf("error: %v\n", err)
		}
	}
	conn.Close()
}

var errQuit = fmt.Errorf("quit")

func handleLine(conn *client.Connection, handler *ui, line string) error {
	if !strings.HasPrefix(line, "/") {
		return conn.SendMessage(handler.currentChannel(), line)
	}

	command, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "/join":
		if arg == "" {
			return fmt.Errorf("usage: /join <name>")
		}
		return conn.Join(arg)
	case "/leave":
		id, err := channelArg(handler, arg)
		if err != nil {
			return err
		}
		return conn.Leave(id)
	case "/users":
		id, err := channelArg(handler, arg)
		if err != nil {
			return err
		}
		return conn.RequestUsers(id)
	case "/channels":
		return conn.RequestChannels()
	case "/quit":
		return errQuit
	default:
		return fmt.Errorf("unknown command %s", command)
	}
}

// channelArg parses an optional channel id, defaulting to the current
// channel.
func channelArg(handler *ui, arg string) (int, error) {
	if arg == "" {
		return handler.currentChannel(), nil
	}
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid channel id %q", arg)
	}
	return id, nil
}
