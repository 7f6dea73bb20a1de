// ABOUTME: Admin CLI for tinytodo-gateway list and share management
// ABOUTME: Talks to the HTTP API with JWT authentication

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
)

const banner = `
 _   _                 _            _           _
| |_(_)_ __  _   _    | |_ ___   __| | ___     | | ___  __ _ _ __ ___
| __| | '_ \| | | |___| __/ _ \ / _' |/ _ \ ___| |/ _ \/ _' | '_ ' _ \
| |_| | | | | |_| |___| || (_) | (_| | (_) |___| |  __/ (_| | | | | | |
 \__|_|_| |_|\__, |    \__\___/ \__,_|\___/    |_|\___|\__,_|_| |_| |_|
             |___/
`

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	baseURL := os.Getenv("TINYTODO_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	token := os.Getenv("TINYTODO_TOKEN")

	c := &client{baseURL: baseURL, token: token}

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "status":
		err = cmdStatus(c)
	case "signup":
		err = cmdSignUp(c, args)
	case "lists":
		err = cmdLists(c)
	case "shared":
		err = cmdShared(c)
	case "tasks":
		err = cmdTasks(c, args)
	case "shares":
		err = cmdShares(c, args)
	case "share":
		err = cmdShare(c, args)
	case "unshare":
		err = cmdUnshare(c, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println()
	fmt.Println("Usage: tinytodo-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  status                        Check server health")
	fmt.Println("  signup --name NAME            Provision your account")
	fmt.Println("  lists                         List your task lists")
	fmt.Println("  shared                        List task lists shared with you")
	fmt.Println("  tasks <list-id>               List tasks on a list")
	fmt.Println("  shares <list-id>              List shares on a list")
	fmt.Println("  share <list-id> <user> <role> Share a list (role: editor|viewer)")
	fmt.Println("  unshare <list-id> <user>      Remove a share")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Println("  TINYTODO_URL     Server base URL (default: http://localhost:8080)")
	fmt.Println("  TINYTODO_TOKEN   JWT authentication token (required)")
	fmt.Println()
	yellow.Println("Examples:")
	fmt.Println("  export TINYTODO_TOKEN=\"eyJhbG...\"")
	fmt.Println("  tinytodo-admin lists")
	fmt.Println("  tinytodo-admin share 1 kesha viewer")
	fmt.Println()
}

// client wraps HTTP calls against the gateway API.
type client struct {
	baseURL string
	token   string
}

func (c *client) do(method, path string, body any) (map[string]any, error) {
	if c.token == "" && path != "/health" {
		return nil, fmt.Errorf("TINYTODO_TOKEN environment variable is required")
	}

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequest(method, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connecting to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if msg, ok := decoded["message"].(string); ok {
			return nil, fmt.Errorf("%s (status %d)", msg, resp.StatusCode)
		}
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return decoded, nil
}

func cmdStatus(c *client) error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)

	cyan.Print(banner)
	fmt.Println()

	if _, err := c.do(http.MethodGet, "/health", nil); err != nil {
		fmt.Printf("  Server:  ")
		color.Red("UNREACHABLE (%v)\n", err)
		return nil
	}

	green.Printf("  Server:  ")
	fmt.Printf("healthy at %s\n", c.baseURL)
	fmt.Println()
	return nil
}

func cmdSignUp(c *client, args []string) error {
	var name string
	for i := 0; i < len(args); i++ {
		if args[i] == "--name" && i+1 < len(args) {
			name = args[i+1]
			i++
		}
	}
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}

	resp, err := c.do(http.MethodPost, "/signup", map[string]string{"name": name})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Provisioned: %s\n", resp["user"])
	return nil
}

func cmdLists(c *client) error {
	resp, err := c.do(http.MethodGet, "/list/task-lists", nil)
	if err != nil {
		return err
	}

	lists, _ := resp["lists"].([]any)
	if len(lists) == 0 {
		fmt.Println("No task lists.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, l := range lists {
		m := l.(map[string]any)
		fmt.Fprintf(w, "%.0f\t%s\t%s\n", m["id"], m["name"], m["description"])
	}
	return w.Flush()
}

func cmdShared(c *client) error {
	resp, err := c.do(http.MethodGet, "/list/shared-lists", nil)
	if err != nil {
		return err
	}

	shared, _ := resp["sharedLists"].([]any)
	if len(shared) == 0 {
		fmt.Println("No shared task lists.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tOWNER\tROLE")
	for _, l := range shared {
		m := l.(map[string]any)
		fmt.Fprintf(w, "%.0f\t%s\t%s\t%s\n", m["id"], m["name"], m["owner"], m["role"])
	}
	return w.Flush()
}

func cmdTasks(c *client, args []string) error {
	listID, err := listIDArg(args)
	if err != nil {
		return err
	}

	resp, err := c.do(http.MethodGet, fmt.Sprintf("/list/tasks?listId=%d", listID), nil)
	if err != nil {
		return err
	}

	tasks, _ := resp["tasks"].([]any)
	if len(tasks) == 0 {
		fmt.Println("No tasks.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDESCRIPTION")
	for _, t := range tasks {
		m := t.(map[string]any)
		fmt.Fprintf(w, "%.0f\t%s\t%s\n", m["id"], m["name"], m["description"])
	}
	return w.Flush()
}

func cmdShares(c *client, args []string) error {
	listID, err := listIDArg(args)
	if err != nil {
		return err
	}

	resp, err := c.do(http.MethodGet, fmt.Sprintf("/list/shares?listId=%d", listID), nil)
	if err != nil {
		return err
	}

	shares, _ := resp["shares"].([]any)
	if len(shares) == 0 {
		fmt.Println("No shares.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "USER\tROLE")
	for _, s := range shares {
		m := s.(map[string]any)
		fmt.Fprintf(w, "%s\t%s\n", m["user"], m["role"])
	}
	return w.Flush()
}

func cmdShare(c *client, args []string) error {
	if len(args) != 3 {
		return fmt.Errorf("usage: share <list-id> <user> <role>")
	}
	listID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing list id: %w", err)
	}

	_, err = c.do(http.MethodPost, "/share/create", map[string]any{
		"listId": listID,
		"user":   args[1],
		"role":   args[2],
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Shared list %d with %s as %s\n", listID, args[1], args[2])
	return nil
}

func cmdUnshare(c *client, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: unshare <list-id> <user>")
	}
	listID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("parsing list id: %w", err)
	}

	_, err = c.do(http.MethodDelete, "/share/delete", map[string]any{
		"listId": listID,
		"user":   args[1],
	})
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Removed share on list %d for %s\n", listID, args[1])
	return nil
}

func listIDArg(args []string) (int64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("a list id argument is required")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing list id: %w", err)
	}
	return id, nil
}
