package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"golang.org/x/term"
)

// ChatCmd runs an interactive chat against a running server over its HTTP
// API. Responses stream token by token unless --no-stream is given.
type ChatCmd struct {
	Server     string `help:"Server URL (defaults to STRAND_SERVER or http://localhost:8000)."`
	Session    string `help:"Existing session id (a new session is created when empty)."`
	WebSearch  bool   `name:"web-search" help:"Enable web search for every message."`
	DeepSearch bool   `name:"deep-search" help:"Enable deep research for every message."`
	Stream     bool   `default:"true" negatable:"" help:"Stream responses (--no-stream waits for the full answer)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	client := &chatClient{
		base:   resolveServerURL(c.Server),
		client: http.DefaultClient,
	}

	sessionID := c.Session
	if sessionID == "" {
		sid, err := client.createSession()
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		sessionID = sid
	}

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("💬 Chat session %s at %s\n", sessionID, client.base)
		fmt.Println("Commands:")
		fmt.Println("  /quit or /exit - End the chat")
		fmt.Println("  /clear         - Start a fresh session")
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)
	for {
		if interactive {
			fmt.Print("You: ")
		}

		input, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				if interactive {
					fmt.Println()
				}
				return nil
			}
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit", "/exit":
				fmt.Println("Chat session ended")
				return nil
			case "/clear":
				sid, err := client.createSession()
				if err != nil {
					fmt.Printf("Error: %v\n", err)
					continue
				}
				sessionID = sid
				fmt.Printf("Started fresh session %s\n", sessionID)
				continue
			default:
				fmt.Printf("Unknown command: %s\n", input)
				continue
			}
		}

		if interactive {
			fmt.Print("\nAssistant: ")
		}
		if c.Stream {
			err = client.streamMessage(sessionID, input, c.WebSearch, c.DeepSearch)
		} else {
			err = client.sendMessage(sessionID, input, c.WebSearch, c.DeepSearch)
		}
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		fmt.Println()
	}
}

type chatClient struct {
	base   string
	client *http.Client
}

type chatPayload struct {
	Message    string `json:"message"`
	WebSearch  bool   `json:"web_search"`
	DeepSearch bool   `json:"deep_search"`
}

func (c *chatClient) createSession() (string, error) {
	resp, err := c.client.Post(c.base+"/api/sessions", "application/json", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", serverError(resp)
	}

	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *chatClient) sendMessage(sessionID, message string, webSearch, deepSearch bool) error {
	resp, err := c.postChat(sessionID, "/chat", message, webSearch, deepSearch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return err
	}
	fmt.Println(out.Message)
	return nil
}

func (c *chatClient) streamMessage(sessionID, message string, webSearch, deepSearch bool) error {
	resp, err := c.postChat(sessionID, "/chat/stream", message, webSearch, deepSearch)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return serverError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var frame struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &frame); err != nil {
			continue
		}

		switch frame.Type {
		case "content":
			var content struct {
				Content    string `json:"content"`
				IsComplete bool   `json:"is_complete"`
				Node       string `json:"node"`
			}
			if err := json.Unmarshal(frame.Data, &content); err != nil {
				continue
			}
			if content.IsComplete {
				// A node finished; break the line before the next one starts.
				if content.Node != "" {
					fmt.Println()
				}
				continue
			}
			fmt.Print(content.Content)
		case "error":
			var errData struct {
				Error string `json:"error"`
			}
			if err := json.Unmarshal(frame.Data, &errData); err == nil && errData.Error != "" {
				return fmt.Errorf("%s", errData.Error)
			}
		case "done":
			return nil
		}
	}
	return scanner.Err()
}

func (c *chatClient) postChat(sessionID, path, message string, webSearch, deepSearch bool) (*http.Response, error) {
	body, err := json.Marshal(chatPayload{
		Message:    message,
		WebSearch:  webSearch,
		DeepSearch: deepSearch,
	})
	if err != nil {
		return nil, err
	}
	url := c.base + "/api/sessions/" + sessionID + path
	return c.client.Post(url, "application/json", bytes.NewReader(body))
}

func serverError(resp *http.Response) error {
	var out struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err == nil && out.Error != "" {
		return fmt.Errorf("%s", out.Error)
	}
	return fmt.Errorf("server returned %s", resp.Status)
}

func resolveServerURL(serverURL string) string {
	if serverURL == "" {
		if env := os.Getenv("STRAND_SERVER"); env != "" {
			serverURL = env
		} else {
			serverURL = "http://localhost:8000"
		}
	}
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		serverURL = "http://" + serverURL
	}
	return strings.TrimSuffix(serverURL, "/")
}
