package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360/pathcast/errors"
	"github.com/c360/pathcast/types"
)

const clientTimeout = 10 * time.Second

// Client talks to a registry server. It is safe for concurrent use.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the registry at the given handle.
func NewClient(handle types.ConnectionHandle) *Client {
	return &Client{
		base: fmt.Sprintf("http://%s", handle),
		http: &http.Client{Timeout: clientTimeout},
	}
}

// Register registers a publisher and returns the stored record.
func (c *Client) Register(ctx context.Context, name, path string, handle types.ConnectionHandle) (types.ServiceRecord, error) {
	body, err := json.Marshal(registerRequest{
		Name: name,
		Path: path,
		Host: handle.Host,
		Port: handle.Port,
	})
	if err != nil {
		return types.ServiceRecord{}, errors.Wrap(err, "registry.Client", "Register", "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.base+"/v1/publishers", bytes.NewReader(body))
	if err != nil {
		return types.ServiceRecord{}, errors.Wrap(err, "registry.Client", "Register", "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	var record types.ServiceRecord
	if err := c.do(req, http.StatusCreated, &record); err != nil {
		return types.ServiceRecord{}, err
	}
	return record, nil
}

// Lookup returns the record registered at the given path.
func (c *Client) Lookup(ctx context.Context, path string) (types.ServiceRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.pathURL(path), nil)
	if err != nil {
		return types.ServiceRecord{}, errors.Wrap(err, "registry.Client", "Lookup", "building request")
	}

	var record types.ServiceRecord
	if err := c.do(req, http.StatusOK, &record); err != nil {
		return types.ServiceRecord{}, err
	}
	return record, nil
}

// Remove deregisters the publisher at the given path.
func (c *Client) Remove(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.pathURL(path), nil)
	if err != nil {
		return errors.Wrap(err, "registry.Client", "Remove", "building request")
	}
	return c.do(req, http.StatusNoContent, nil)
}

// Tree returns the registered path hierarchy.
func (c *Client) Tree(ctx context.Context) (TreeNode, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/v1/tree", nil)
	if err != nil {
		return TreeNode{}, errors.Wrap(err, "registry.Client", "Tree", "building request")
	}

	var root TreeNode
	if err := c.do(req, http.StatusOK, &root); err != nil {
		return TreeNode{}, err
	}
	return root, nil
}

// Path segments are restricted to alphanumerics, '-' and '_', so the path
// can ride in the URL as-is; anything else is rejected server-side.
func (c *Client) pathURL(path string) string {
	return c.base + "/v1/publishers/" + strings.Trim(path, "/")
}

func (c *Client) do(req *http.Request, wantStatus int, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, "registry.Client", "do", "calling registry")
	}
	defer resp.Body.Close()

	if resp.StatusCode != wantStatus {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "registry.Client", "do", "decoding response")
	}
	return nil
}

// decodeError maps an RPC error body back to the sentinel the server started
// from, so callers can use errors.Is on a remote registry exactly as on a
// local State.
func decodeError(resp *http.Response) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return errors.WrapTransient(err, "registry.Client", "decodeError", "reading error body")
	}

	var body errorBody
	if err := json.Unmarshal(data, &body); err != nil {
		return errors.New(fmt.Sprintf("registry returned status %d: %s", resp.StatusCode, string(data)))
	}

	switch body.Code {
	case codeEmptyPath:
		return errors.ErrEmptyPath
	case codeInvalidPath:
		return fmt.Errorf("%w: %s", errors.ErrInvalidPath, body.Error)
	case codeDuplicatePath:
		return errors.ErrDuplicatePath
	case codeHierarchyViolation:
		return errors.ErrHierarchyViolation
	case codeNotFound:
		return errors.ErrNotFound
	default:
		return errors.New(fmt.Sprintf("registry error %s: %s", body.Code, body.Error))
	}
}
