package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/paularlott/cli"
	"golang.org/x/term"
)

// Client talks to a running changerd server over its HTTP API.
type Client struct {
	baseURL string
	token   string
	actor   string
	http    *http.Client
}

// New creates a client for the given server. An empty token sends no
// Authorization header.
func New(baseURL, token, actor string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		actor:   actor,
		http:    &http.Client{Timeout: 60 * time.Second},
	}
}

// Flags returns the connection flags shared by the client subcommands.
func Flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:         "server",
			Aliases:      []string{"s"},
			Usage:        "Server URL",
			DefaultValue: "http://localhost:8420",
			EnvVars:      []string{"CHANGERD_SERVER_URL"},
		},
		&cli.StringFlag{
			Name:    "token",
			Usage:   "API bearer token",
			EnvVars: []string{"CHANGERD_API_TOKEN"},
		},
		&cli.BoolFlag{
			Name:  "prompt-token",
			Usage: "Prompt for the API token instead of passing it on the command line",
		},
		&cli.StringFlag{
			Name:         "actor",
			Usage:        "Actor recorded in the change log",
			DefaultValue: "cli",
			EnvVars:      []string{"CHANGERD_ACTOR"},
		},
	}
}

// FromCommand builds a client from the connection flags.
func FromCommand(cmd *cli.Command) (*Client, error) {
	token := cmd.GetString("token")
	if cmd.GetBool("prompt-token") {
		prompted, err := promptToken()
		if err != nil {
			return nil, err
		}
		token = prompted
	}
	return New(cmd.GetString("server"), token, cmd.GetString("actor")), nil
}

// promptToken reads the token from the terminal without echoing it.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal, pass the token via --token or CHANGERD_API_TOKEN")
	}
	fmt.Fprint(os.Stderr, "API token: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading token: %w", err)
	}
	return string(raw), nil
}

// Get issues a GET request and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

// Post issues a POST request with a JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	return c.do(ctx, http.MethodPost, path, reader, out)
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.actor != "" {
		req.Header.Set("X-Actor", c.actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &envelope) == nil && envelope.Error != "" {
			return fmt.Errorf("server error (%s): %s", resp.Status, envelope.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
