package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/amruthjakku/AgriVoice/internal/pipeline"
)

const defaultServer = "http://localhost:8080"

// apiClient talks to a running `agrivoice serve`.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(base string) *apiClient {
	return &apiClient{base: strings.TrimRight(base, "/"), http: &http.Client{Timeout: 2 * time.Minute}}
}

func (c *apiClient) submit(ctx context.Context, filename string, audio []byte, lang, phone string) (pipeline.Receipt, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("audio", filepath.Base(filename))
	if err != nil {
		return pipeline.Receipt{}, err
	}
	if _, err := part.Write(audio); err != nil {
		return pipeline.Receipt{}, err
	}
	_ = w.WriteField("language", lang)
	if phone != "" {
		_ = w.WriteField("user_phone", phone)
	}
	if err := w.Close(); err != nil {
		return pipeline.Receipt{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/api/audio", &body)
	if err != nil {
		return pipeline.Receipt{}, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	var receipt pipeline.Receipt
	return receipt, c.do(req, http.StatusAccepted, &receipt)
}

func (c *apiClient) status(ctx context.Context, id string) (pipeline.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/api/session/"+url.PathEscape(id), nil)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	var snap pipeline.Snapshot
	return snap, c.do(req, http.StatusOK, &snap)
}

func (c *apiClient) wait(ctx context.Context, id string, maxAttempts int) (pipeline.Snapshot, error) {
	u := c.base + "/api/session/" + url.PathEscape(id) + "/wait"
	if maxAttempts > 0 {
		u += "?max_attempts=" + strconv.Itoa(maxAttempts)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return pipeline.Snapshot{}, err
	}
	var snap pipeline.Snapshot
	return snap, c.do(req, http.StatusOK, &snap)
}

func (c *apiClient) do(req *http.Request, want int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", req.Method, req.URL.Path)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "read response")
	}
	if resp.StatusCode != want {
		var apiErr struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return errors.Errorf("%s %s: %d %s", req.Method, req.URL.Path, resp.StatusCode, apiErr.Message)
		}
		return errors.Errorf("%s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}
	return errors.Wrap(json.Unmarshal(body, out), "decode response")
}

func newAskCmd() *cobra.Command {
	var (
		server, file, lang, phone string
		maxAttempts               int
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Upload a recorded question and wait for the answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			audio, err := os.ReadFile(file)
			if err != nil {
				return errors.Wrap(err, "read audio file")
			}
			client := newAPIClient(server)
			receipt, err := client.submit(cmd.Context(), file, audio, lang, phone)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "session %s submitted, waiting for answer\n", receipt.SessionID)
			snap, err := client.wait(cmd.Context(), receipt.SessionID, maxAttempts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "AgriVoice server URL")
	cmd.Flags().StringVarP(&file, "file", "f", "", "recorded question (webm, wav, mp3)")
	cmd.Flags().StringVarP(&lang, "lang", "l", "en", "question language (hi, te, en, auto)")
	cmd.Flags().StringVar(&phone, "phone", "", "caller phone number")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "status polls before giving up (server default when 0)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var server string
	cmd := &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show the current state of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := newAPIClient(server).status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), snap)
		},
	}
	cmd.Flags().StringVar(&server, "server", defaultServer, "AgriVoice server URL")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
