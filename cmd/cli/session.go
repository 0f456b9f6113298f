package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"arduinohub/pkg/models"
)

func handleSession(ctx context.Context, api *apiClient, args []string) {
	sub := ""
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("session "+sub, flag.ExitOnError)
	id := fs.String("session", "", "session id (defaults to the current one)")
	_ = fs.Parse(args)

	switch sub {
	case "new":
		var view models.SessionView
		if err := api.do(ctx, http.MethodPost, "/sessions", true, nil, &view); err != nil {
			log.Fatalf("create session failed: %v", err)
		}
		if err := api.update(func(st *cliState) { st.Session = view.ID }); err != nil {
			log.Fatalf("save session: %v", err)
		}
		fmt.Printf("✅ session %s\n", view.ID)
	case "show":
		var view models.SessionView
		if err := api.do(ctx, http.MethodGet, api.sessionPath(*id, ""), true, nil, &view); err != nil {
			log.Fatalf("show failed: %v", err)
		}
		printSession(os.Stdout, view)
	case "rm":
		if err := api.do(ctx, http.MethodDelete, api.sessionPath(*id, ""), true, nil, nil); err != nil {
			log.Fatalf("delete failed: %v", err)
		}
		_ = api.update(func(st *cliState) {
			if *id == "" || st.Session == *id {
				st.Session = ""
			}
		})
		fmt.Println("✅ session deleted")
	default:
		log.Fatal("usage: arduinohub session <new|show|rm>")
	}
}

func handleDetect(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("detect", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	image := fs.String("image", "", "photo of the components")
	_ = fs.Parse(args)
	if *image == "" {
		log.Fatal("please upload an image first: -image is required")
	}

	var resp models.DetectionView
	if err := api.upload(ctx, api.sessionPath(*id, "/detect"), *image, &resp); err != nil {
		log.Fatalf("Error: %v", err)
	}
	fmt.Println(resp.Summary)
	printComponents(os.Stdout, resp.Components)
}

func handleComponents(ctx context.Context, api *apiClient, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("components "+sub, flag.ExitOnError)
	id := fs.String("session", "", "session id")
	cid := fs.Int("id", 0, "component id")
	name := fs.String("name", "", "component name")
	qty := fs.String("quantity", "", "quantity")
	_ = fs.Parse(args)

	base := api.sessionPath(*id, "/components")
	switch sub {
	case "list":
		var resp struct {
			Items []models.DetectedComponent `json:"items"`
		}
		if err := api.do(ctx, http.MethodGet, base, true, nil, &resp); err != nil {
			log.Fatalf("list failed: %v", err)
		}
		printComponents(os.Stdout, resp.Items)
	case "add":
		payload := map[string]any{}
		if *name != "" {
			payload["name"] = *name
		}
		if *qty != "" {
			n, err := strconv.Atoi(*qty)
			if err != nil {
				log.Fatalf("quantity must be an integer: %v", err)
			}
			payload["quantity"] = n
		}
		var comp models.DetectedComponent
		if err := api.do(ctx, http.MethodPost, base, true, payload, &comp); err != nil {
			log.Fatalf("add failed: %v", err)
		}
		printComponents(os.Stdout, []models.DetectedComponent{comp})
	case "set":
		if *cid == 0 {
			log.Fatal("-id is required")
		}
		updates := map[string]string{}
		if *name != "" {
			updates["name"] = *name
		}
		if *qty != "" {
			updates["quantity"] = *qty
		}
		if len(updates) == 0 {
			log.Fatal("nothing to change: pass -name and/or -quantity")
		}
		var comp models.DetectedComponent
		for _, field := range []string{"name", "quantity"} {
			value, ok := updates[field]
			if !ok {
				continue
			}
			payload := map[string]string{"field": field, "value": value}
			if err := api.do(ctx, http.MethodPatch, base+"/"+strconv.Itoa(*cid), true, payload, &comp); err != nil {
				log.Fatalf("update %s failed: %v", field, err)
			}
		}
		printComponents(os.Stdout, []models.DetectedComponent{comp})
	case "rm":
		if *cid == 0 {
			log.Fatal("-id is required")
		}
		var resp struct {
			Removed bool `json:"removed"`
		}
		if err := api.do(ctx, http.MethodDelete, base+"/"+strconv.Itoa(*cid), true, nil, &resp); err != nil {
			log.Fatalf("remove failed: %v", err)
		}
		if !resp.Removed {
			fmt.Printf("no component with id %d\n", *cid)
			return
		}
		fmt.Println("✅ removed")
	default:
		log.Fatal("usage: arduinohub components <list|add|set|rm>")
	}
}

func handleDescribe(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("describe", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	text := fs.String("text", "", "what the project should do")
	_ = fs.Parse(args)

	payload := map[string]string{"description": *text}
	if err := api.do(ctx, http.MethodPut, api.sessionPath(*id, "/description"), true, payload, nil); err != nil {
		log.Fatalf("describe failed: %v", err)
	}
	fmt.Println("✅ description saved")
}

func handleConfirm(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("confirm", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	wait := fs.Bool("wait", false, "block until all sections finish")
	_ = fs.Parse(args)

	path := api.sessionPath(*id, "/confirm")
	if *wait {
		path += "?wait=true"
	}
	var res models.Results
	if err := api.do(ctx, http.MethodPost, path, true, nil, &res); err != nil {
		log.Fatalf("confirm failed: %v", err)
	}
	printTasks(os.Stdout, res.Tasks)
	if !*wait {
		fmt.Println("generation started; use `arduinohub watch` or `arduinohub results`")
	}
}

func handleRegenerate(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("regenerate", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	section := fs.String("section", "", "code, principles or guide")
	wait := fs.Bool("wait", false, "block until the section finishes")
	_ = fs.Parse(args)

	if _, err := models.ParseSection(*section); err != nil {
		log.Fatal(err)
	}
	path := api.sessionPath(*id, "/regenerate/"+url.PathEscape(*section))
	if *wait {
		path += "?wait=true"
	}
	var st models.TaskState
	if err := api.do(ctx, http.MethodPost, path, true, nil, &st); err != nil {
		log.Fatalf("regenerate failed: %v", err)
	}
	printTasks(os.Stdout, []models.TaskState{st})
}

func handleResults(ctx context.Context, api *apiClient, args []string) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	id := fs.String("session", "", "session id")
	only := fs.String("section", "", "print a single section")
	_ = fs.Parse(args)

	var res models.Results
	if err := api.do(ctx, http.MethodGet, api.sessionPath(*id, "/results"), true, nil, &res); err != nil {
		log.Fatalf("results failed: %v", err)
	}

	var filter models.Section
	if *only != "" {
		s, err := models.ParseSection(*only)
		if err != nil {
			log.Fatal(err)
		}
		filter = s
	}
	printResults(os.Stdout, res, filter)
}

func handleSave(ctx context.Context, api *apiClient) {
	var p models.Project
	if err := api.do(ctx, http.MethodPost, api.sessionPath("", "/save"), true, nil, &p); err != nil {
		log.Fatalf("save failed: %v", err)
	}
	fmt.Printf("✅ saved project %s\n", p.ID)
}

func handleProjects(ctx context.Context, api *apiClient, args []string) {
	sub := "list"
	if len(args) > 0 {
		sub, args = args[0], args[1:]
	}
	fs := flag.NewFlagSet("projects "+sub, flag.ExitOnError)
	pid := fs.String("id", "", "project id")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "offset")
	_ = fs.Parse(args)

	switch sub {
	case "list":
		q := url.Values{}
		q.Set("limit", strconv.Itoa(*limit))
		q.Set("offset", strconv.Itoa(*offset))
		var resp struct {
			Total int              `json:"total"`
			Items []models.Project `json:"items"`
		}
		if err := api.do(ctx, http.MethodGet, "/projects?"+q.Encode(), true, nil, &resp); err != nil {
			log.Fatalf("list failed: %v", err)
		}
		printProjects(os.Stdout, resp.Total, resp.Items)
	case "show":
		if *pid == "" {
			log.Fatal("-id is required")
		}
		var p models.Project
		if err := api.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(*pid), true, nil, &p); err != nil {
			log.Fatalf("show failed: %v", err)
		}
		printProject(os.Stdout, p)
	default:
		log.Fatal("usage: arduinohub projects <list|show>")
	}
}
