package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/peerhub/internal/client"
)

type RequestCmd struct {
	Method  string   `arg:"" help:"HTTP method" enum:"GET,POST,PUT,PATCH,DELETE,get,post,put,patch,delete"`
	Path    string   `arg:"" help:"Path relative to the server URL, e.g. /users/profile"`
	Data    string   `help:"JSON request body" short:"d" xor:"body"`
	File    string   `help:"Upload a file as multipart/form-data" type:"existingfile" xor:"body"`
	Field   string   `help:"Form field name used with --file" default:"file"`
	Headers []string `help:"Extra request header as 'Name: value'" name:"header" short:"H"`
}

func (c *RequestCmd) Run(ctx context.Context, globals *Globals) error {
	req, err := c.build()
	if err != nil {
		return err
	}

	s, err := globals.newSession()
	if err != nil {
		return err
	}

	resp, err := s.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if client.IsUnauthorized(resp) && s.expired {
		return ErrSessionExpired
	}

	if err := writeResponse(globals.Stdout, resp); err != nil {
		return err
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server returned %s", resp.Status)
	}

	return nil
}

func (c *RequestCmd) build() (*client.Request, error) {
	req := &client.Request{
		Method: strings.ToUpper(c.Method),
		Path:   c.Path,
		Header: http.Header{},
	}

	for _, h := range c.Headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid header %q, expected 'Name: value'", h)
		}
		req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	switch {
	case c.Data != "":
		if !json.Valid([]byte(c.Data)) {
			return nil, fmt.Errorf("--data is not valid JSON")
		}
		req.Body = json.RawMessage(c.Data)

	case c.File != "":
		body, contentType, err := multipartBody(c.Field, c.File)
		if err != nil {
			return nil, err
		}
		req.Body = body
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

// multipartBody encodes path as a single file part; the client sends it raw
// so the boundary in contentType is preserved.
func multipartBody(field, path string) ([]byte, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form part: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish form: %w", err)
	}

	return buf.Bytes(), w.FormDataContentType(), nil
}

func writeResponse(out io.Writer, resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		var pretty bytes.Buffer
		if json.Indent(&pretty, body, "", "  ") == nil {
			body = pretty.Bytes()
		}
	}

	if _, err := out.Write(body); err != nil {
		return err
	}
	if len(body) > 0 && body[len(body)-1] != '\n' {
		_, err = io.WriteString(out, "\n")
	}
	return err
}
