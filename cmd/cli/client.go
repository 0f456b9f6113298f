package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

type apiClient struct {
	http      *http.Client
	base      string
	statePath string
}

// cliState survives between invocations so commands can omit -session.
type cliState struct {
	Token   string `json:"token"`
	Session string `json:"session,omitempty"`
}

func (a *apiClient) do(ctx context.Context, method, path string, authed bool, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.Header.Set("Authorization", "Bearer "+a.mustToken())
	}
	return a.send(req, out)
}

func (a *apiClient) upload(ctx context.Context, path, file string, out any) error {
	data, err := os.ReadFile(file)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("image", filepath.Base(file))
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+a.mustToken())
	return a.send(req, out)
}

func (a *apiClient) send(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Kind != "" {
				return fmt.Errorf("%s (%s, status %d)", apiErr.Error, apiErr.Kind, resp.StatusCode)
			}
			return fmt.Errorf("%s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s failed: %s", req.Method, req.URL.Path, strings.TrimSpace(string(data)))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

// sessionPath resolves "/sessions/<id><suffix>" from the flag or saved state.
func (a *apiClient) sessionPath(id, suffix string) string {
	if id == "" {
		st, _ := loadState(a.statePath)
		id = st.Session
	}
	if id == "" {
		log.Fatal("no session: run `arduinohub session new` or pass -session")
	}
	return "/sessions/" + url.PathEscape(id) + suffix
}

func (a *apiClient) mustToken() string {
	st, err := loadState(a.statePath)
	if err != nil {
		log.Fatalf("token not found, please login: %v", err)
	}
	if st.Token == "" {
		log.Fatal("token empty, please login")
	}
	return st.Token
}

func (a *apiClient) update(fn func(*cliState)) error {
	st, err := loadState(a.statePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	fn(&st)
	return saveState(a.statePath, st)
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./.arduinohub-cli.json"
	}
	return filepath.Join(home, ".arduinohub", "cli.json")
}

func loadState(path string) (cliState, error) {
	var st cliState
	data, err := os.ReadFile(path)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	st.Token = strings.TrimSpace(st.Token)
	return st, nil
}

func saveState(path string, st cliState) error {
	if st.Token == "" {
		return errors.New("empty token")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func clearState(path string) error {
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return nil
}

func websocketURL(baseURL, path string, query url.Values) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	scheme := "ws"
	if u.Scheme == "https" {
		scheme = "wss"
	}
	return (&url.URL{
		Scheme:   scheme,
		Host:     u.Host,
		Path:     path,
		RawQuery: query.Encode(),
	}).String(), nil
}
