package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apiclient "github.com/deadlydiamond/devflow/pkg/api/client"
	"golang.org/x/term"
)

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "events":
		err = commandEvents(args)
	case "link":
		err = commandLink(args)
	case "integration":
		err = commandIntegration(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	password := fs.String("password", "", "Operator password (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default http://localhost:4100)")
	fs.Parse(args)

	secret := strings.TrimSpace(*password)
	if secret == "" {
		fmt.Print("Password: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		secret = string(bytes)
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = *apiBase
	} else if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4100"
	}

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	resp, err := client.Login(ctx, secret)
	if err != nil {
		return err
	}
	cfg.AccessToken = resp.Token
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Println("login successful")
	return nil
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of events to display")
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	events, err := client.ListEvents(ctx, token, *limit)
	if err != nil {
		return err
	}
	for _, event := range events {
		url := event.DeploymentURL
		if url == "" {
			url = "-"
		}
		fmt.Printf("%s\t%s\t%s [%s]\t%s\n",
			event.Timestamp.Format(time.RFC3339), event.Status, event.JobName, event.JobID, url)
	}
	return nil
}

func commandLink(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: devflow link [list|add|rm|sync]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return linkList(args[1:])
	case "add":
		return linkAdd(args[1:])
	case "rm":
		return linkRemove(args[1:])
	case "sync":
		return linkSync(args[1:])
	default:
		return fmt.Errorf("unknown link command: %s", sub)
	}
}

func linkList(args []string) error {
	fs := flag.NewFlagSet("link list", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	links, err := client.ListLinks(ctx, token)
	if err != nil {
		return err
	}
	for _, link := range links {
		fmt.Printf("%s\t%s\t%s\t%s\n",
			link.JobID, link.TicketID, link.Status, link.UpdatedAt.Format(time.RFC3339))
	}
	return nil
}

func linkAdd(args []string) error {
	fs := flag.NewFlagSet("link add", flag.ExitOnError)
	jobID := fs.String("job", "", "Deployment job identifier (build number)")
	ticketID := fs.String("ticket", "", "Issue key, e.g. PROJ-123")
	fs.Parse(args)

	if strings.TrimSpace(*jobID) == "" {
		return errors.New("--job is required")
	}
	if strings.TrimSpace(*ticketID) == "" {
		return errors.New("--ticket is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	link, err := client.AddLink(ctx, token, *jobID, *ticketID)
	if err != nil {
		return err
	}
	fmt.Printf("linked %s to %s (status %s)\n", link.JobID, link.TicketID, link.Status)
	return nil
}

func linkRemove(args []string) error {
	fs := flag.NewFlagSet("link rm", flag.ExitOnError)
	jobID := fs.String("job", "", "Deployment job identifier")
	fs.Parse(args)
	if strings.TrimSpace(*jobID) == "" {
		return errors.New("--job is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.RemoveLink(ctx, token, *jobID); err != nil {
		return err
	}
	fmt.Println("link removed")
	return nil
}

func linkSync(args []string) error {
	fs := flag.NewFlagSet("link sync", flag.ExitOnError)
	jobID := fs.String("job", "", "Deployment job identifier")
	fs.Parse(args)
	if strings.TrimSpace(*jobID) == "" {
		return errors.New("--job is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := client.SyncLink(ctx, token, *jobID)
	if err != nil {
		return err
	}
	if result.Updated {
		fmt.Printf("issue transitioned via %q\n", result.TransitionApplied)
		return nil
	}
	fmt.Printf("no change: %s\n", result.Reason)
	return nil
}

func commandIntegration(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: devflow integration [status|slack|jira]")
	}
	sub := args[0]
	switch sub {
	case "status":
		return integrationStatus(args[1:])
	case "slack":
		return integrationSlack(args[1:])
	case "jira":
		return integrationJira(args[1:])
	default:
		return fmt.Errorf("unknown integration command: %s", sub)
	}
}

func integrationStatus(args []string) error {
	fs := flag.NewFlagSet("integration status", flag.ExitOnError)
	fs.Parse(args)

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	status, err := client.GetSlackStatus(ctx, token)
	if err != nil {
		return err
	}
	fmt.Printf("slack channel: %s\n", orDash(status.ChannelID))
	fmt.Printf("slack token configured: %t\n", status.TokenConfigured)
	if status.CooldownActive {
		fmt.Printf("slack cooldown: active (%ds remaining)\n", status.CooldownRemaining)
	} else {
		fmt.Println("slack cooldown: inactive")
	}
	return nil
}

func integrationSlack(args []string) error {
	fs := flag.NewFlagSet("integration slack", flag.ExitOnError)
	botToken := fs.String("token", "", "Slack bot token")
	channel := fs.String("channel", "", "Channel ID to poll")
	fs.Parse(args)

	if strings.TrimSpace(*botToken) == "" && strings.TrimSpace(*channel) == "" {
		return errors.New("--token or --channel is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.SetSlackSettings(ctx, token, *botToken, *channel); err != nil {
		return err
	}
	fmt.Println("slack settings stored")
	return nil
}

func integrationJira(args []string) error {
	fs := flag.NewFlagSet("integration jira", flag.ExitOnError)
	baseURL := fs.String("url", "", "Jira base URL")
	email := fs.String("email", "", "Jira account email")
	apiToken := fs.String("token", "", "Jira API token")
	fs.Parse(args)

	if strings.TrimSpace(*baseURL) == "" && strings.TrimSpace(*email) == "" && strings.TrimSpace(*apiToken) == "" {
		return errors.New("--url, --email or --token is required")
	}

	client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.SetJiraSettings(ctx, token, *baseURL, *email, *apiToken); err != nil {
		return err
	}
	fmt.Println("jira settings stored")
	return nil
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func authedClient() (*apiclient.Client, string, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, "", errors.New("please login first using 'devflow login'")
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return nil, "", err
	}
	return client, token, nil
}

func loadConfig() (cliConfig, error) {
	path, err := configPath()
	if err != nil {
		return cliConfig{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cliConfig{APIBaseURL: "http://localhost:4100"}, nil
		}
		return cliConfig{}, err
	}
	var cfg cliConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cliConfig{}, err
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "http://localhost:4100"
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "devflow", "config.json"), nil
}

func printUsage() {
	fmt.Printf("devflow CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	devflow login [--password secret] [--api http://localhost:4100]
	devflow events [--limit N]
	devflow link list
	devflow link add --job <job-id> --ticket <issue-key>
	devflow link rm --job <job-id>
	devflow link sync --job <job-id>
	devflow integration status
	devflow integration slack [--token xoxb-...] [--channel C123]
	devflow integration jira [--url https://org.atlassian.net] [--email you@org.com] [--token secret]
	devflow version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
