package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

const defaultBaseURL = "http://localhost:8080"

type authResponse struct {
	Token string `json:"token"`
}

func main() {
	global := flag.NewFlagSet("arduinohub", flag.ExitOnError)
	baseURL := global.String("api", envOr("ARDUINOHUB_API", defaultBaseURL), "API base URL")
	statePath := global.String("state", defaultStatePath(), "CLI state file (token and current session)")
	if err := global.Parse(os.Args[1:]); err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	args := global.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	ctx := context.Background()
	cmd := args[0]
	rest := args[1:]

	// generation can take a while when waiting on all three sections
	client := &http.Client{Timeout: 3 * time.Minute}
	api := &apiClient{http: client, base: *baseURL, statePath: *statePath}

	switch cmd {
	case "auth":
		handleAuth(ctx, api, rest)
	case "session":
		handleSession(ctx, api, rest)
	case "detect":
		handleDetect(ctx, api, rest)
	case "components":
		handleComponents(ctx, api, rest)
	case "describe":
		handleDescribe(ctx, api, rest)
	case "confirm":
		handleConfirm(ctx, api, rest)
	case "regenerate":
		handleRegenerate(ctx, api, rest)
	case "results":
		handleResults(ctx, api, rest)
	case "save":
		handleSave(ctx, api)
	case "projects":
		handleProjects(ctx, api, rest)
	case "watch":
		handleWatch(api, rest)
	case "feed":
		handleFeed(rest)
	case "health":
		handleHealth(ctx, rest)
	default:
		printUsage()
		os.Exit(1)
	}
}

func handleAuth(ctx context.Context, api *apiClient, args []string) {
	sub := ""
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	switch sub {
	case "login":
		fs := flag.NewFlagSet("auth login", flag.ExitOnError)
		email := fs.String("email", "", "email address")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args)

		if *email == "" || *password == "" {
			log.Fatal("email and password are required")
		}

		payload := map[string]string{"email": *email, "password": *password}
		var resp authResponse
		if err := api.do(ctx, http.MethodPost, "/auth/login", false, payload, &resp); err != nil {
			log.Fatalf("login failed: %v", err)
		}
		if err := api.update(func(st *cliState) { st.Token = resp.Token }); err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Println("✅ logged in")
	case "register":
		fs := flag.NewFlagSet("auth register", flag.ExitOnError)
		username := fs.String("username", "", "username")
		email := fs.String("email", "", "email address")
		password := fs.String("password", "", "password")
		_ = fs.Parse(args)

		if *username == "" || *email == "" || *password == "" {
			log.Fatal("username, email, and password are required")
		}

		payload := map[string]string{"username": *username, "email": *email, "password": *password}
		var resp authResponse
		if err := api.do(ctx, http.MethodPost, "/auth/register", false, payload, &resp); err != nil {
			log.Fatalf("register failed: %v", err)
		}
		if err := api.update(func(st *cliState) { st.Token = resp.Token }); err != nil {
			log.Fatalf("save token: %v", err)
		}
		fmt.Println("✅ registered and logged in")
	case "logout":
		// revoke server-side first; a stale local token is cleared either way
		if err := api.do(ctx, http.MethodPost, "/auth/logout", true, nil, nil); err != nil {
			log.Printf("server logout: %v", err)
		}
		if err := clearState(api.statePath); err != nil {
			log.Fatalf("logout failed: %v", err)
		}
		fmt.Println("✅ logged out")
	default:
		log.Fatal("usage: arduinohub auth <login|register|logout>")
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printUsage() {
	fmt.Println("arduinohub <command> [subcommand] [flags]")
	fmt.Println("commands:")
	fmt.Println("  auth login|register|logout")
	fmt.Println("  session new|show|rm")
	fmt.Println("  detect -image <file>")
	fmt.Println("  components list|add|set|rm")
	fmt.Println("  describe -text <description>")
	fmt.Println("  confirm [-wait]")
	fmt.Println("  regenerate -section code|principles|guide [-wait]")
	fmt.Println("  results [-section code|principles|guide]")
	fmt.Println("  save")
	fmt.Println("  projects list|show")
	fmt.Println("  watch")
	fmt.Println("  feed listen")
	fmt.Println("  health [-addr host:port]")
}
