package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// GetEntities lists the entity ids of the scene controlled by entityID.
func (c *Client) GetEntities(entityID string) (*GetEntitiesResponse, error) {
	var resp GetEntitiesResponse
	req := EntityRequest{EntityIDs: []string{entityID}}
	if err := c.client.Call(serviceName+".GetEntities", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Update captures current states into the scene controlled by entityID.
func (c *Client) Update(entityID string) (*UpdateResponse, error) {
	var resp UpdateResponse
	req := EntityRequest{EntityIDs: []string{entityID}}
	if err := c.client.Call(serviceName+".Update", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reload asks Home Assistant to re-read the scenes document.
func (c *Client) Reload() (*ReloadResponse, error) {
	var resp ReloadResponse
	if err := c.client.Call(serviceName+".Reload", ReloadRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call(serviceName+".Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History returns up to limit journal entries, newest first.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.client.Call(serviceName+".History", HistoryRequest{Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
